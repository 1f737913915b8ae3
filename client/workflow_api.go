package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/workflow"
)

// WorkflowAPI adapts a Client to the interfaces the workflow state
// machines consume. Server errors and transport failures are marked
// retryable so a submit can be attempted again, validation errors
// pass through unchanged and end the flow.
type WorkflowAPI struct {
	client *Client
}

var (
	_ workflow.AuthAPI   = (*WorkflowAPI)(nil)
	_ workflow.LockerAPI = (*WorkflowAPI)(nil)
)

func NewWorkflowAPI(client *Client) *WorkflowAPI {
	return &WorkflowAPI{client: client}
}

func (a *WorkflowAPI) SendOtp(ctx context.Context, phone string) error {
	return markRetryable(a.client.SendOtp(ctx, phone))
}

func (a *WorkflowAPI) VerifyOtp(ctx context.Context, phone, otp string) (bool, error) {
	ok, err := a.client.VerifyOtp(ctx, phone, otp)
	return ok, markRetryable(err)
}

func (a *WorkflowAPI) Register(ctx context.Context, req models.RegisterRequest) error {
	_, err := a.client.Register(ctx, req)
	return markRetryable(err)
}

func (a *WorkflowAPI) Unlock(ctx context.Context, pin, otp string) error {
	return markRetryable(a.client.Unlock(ctx, pin, otp))
}

// markRetryable tags errors that did not come from a definitive 4xx
// answer, so the flows distinguish "try again" from "give up".
func markRetryable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %s", workflow.ErrTransient, err)
}

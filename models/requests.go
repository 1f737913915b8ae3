package models

type PhoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type OtpVerifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	Otp         string `json:"otp"`
}

type RegisterRequest struct {
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	PhoneNumber      string `json:"phone_number"`
	BankAccountNo    string `json:"bank_account_no"`
	IfscCode         string `json:"ifsc_code"`
	BranchName       string `json:"branch_name"`
	SubscriptionPlan string `json:"subscription_plan"`
	TenureYears      int    `json:"tenure_years"`
	ImageBase64      string `json:"image_base64"` // captured face frame, base64 encoded
}

type SetPinRequest struct {
	Pin string `json:"pin"`
}

type UnlockRequest struct {
	Pin string `json:"pin"`
	Otp string `json:"otp"`
}

type NomineeCreateRequest struct {
	NomineeName      string `json:"nominee_name"`
	UserRelationship string `json:"user_relationship"`
}

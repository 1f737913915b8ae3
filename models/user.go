package models

import "time"

type UserStatus string

const (
	StatusPendingApproval UserStatus = "PENDING_APPROVAL"
	StatusPendingPayment  UserStatus = "PENDING_PAYMENT"
	StatusActive          UserStatus = "ACTIVE"
	StatusRejected        UserStatus = "REJECTED"
)

type SubscriptionPlan string

const (
	PlanBasic    SubscriptionPlan = "Basic"
	PlanSilver   SubscriptionPlan = "Silver"
	PlanGold     SubscriptionPlan = "Gold"
	PlanPlatinum SubscriptionPlan = "Platinum"
)

func ValidPlan(p SubscriptionPlan) bool {
	switch p {
	case PlanBasic, PlanSilver, PlanGold, PlanPlatinum:
		return true
	}
	return false
}

// User is the public view of a registered user. Password and PIN hashes
// never leave the server.
type User struct {
	Id          string     `json:"id"`
	FullName    string     `json:"full_name"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phone_number"`
	Status      UserStatus `json:"status"`

	BankAccountNo string `json:"bank_account_no"`
	IfscCode      string `json:"ifsc_code"`
	BranchName    string `json:"branch_name"`

	Locker   *Locker   `json:"locker,omitempty"`
	Nominees []Nominee `json:"nominees"`

	CreatedAt time.Time `json:"created_at"`
}

type Locker struct {
	LockerNumber     string           `json:"locker_number"`
	SubscriptionPlan SubscriptionPlan `json:"subscription_plan"`
	TenureYears      int              `json:"tenure_years"`
	IsActive         bool             `json:"is_active"`
	PinSet           bool             `json:"pin_set"`
}

type Nominee struct {
	Id               string `json:"id"`
	NomineeName      string `json:"nominee_name"`
	UserRelationship string `json:"user_relationship"`
}

type AccessLog struct {
	Id         string    `json:"id"`
	UserId     string    `json:"user_id"`
	UserEmail  string    `json:"user_email"`
	AccessTime time.Time `json:"access_time"`
	Status     string    `json:"status"` // SUCCESS or DENIED
}

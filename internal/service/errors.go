package service

import (
	"errors"

	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/repository"
)

// 认证层错误（面向用户，带处理建议）
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrDeviceOwnedByOther    = errors.New("device is bound to another staff account")
	ErrAccountBoundElsewhere = errors.New("account is bound to another device")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	// ErrAmbiguousAccount 未指定医院时标识匹配到多个账号
	ErrAmbiguousAccount = errors.New("identifier matches more than one staff account")
)

// 考勤/管理/同步错误
var (
	ErrShiftAlreadyOpen = errors.New("shift already open")
	ErrNoOpenShift      = errors.New("no open shift")
	ErrHospitalNotFound = errors.New("hospital not found")
	ErrCorruptPayload   = errors.New("corrupt payload")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
)

// 下层错误在 service 层沿用同一个哨兵值，便于 errors.Is 判断
var (
	ErrLocationUnavailable = geo.ErrLocationUnavailable
	ErrRemoteUnreachable   = repository.ErrRemoteUnreachable
)

var remediations = []struct {
	err  error
	text string
}{
	{ErrUserNotFound, "No staff account matches that username or PIN. Check the hospital and identifier, or ask your administrator to create the account."},
	{ErrDeviceOwnedByOther, "This device is already registered to another staff member. Use your own device, or ask an administrator to reset the other account's device binding."},
	{ErrAmbiguousAccount, "This username or PIN is used in more than one hospital. Select your hospital and sign in again."},
	{ErrAccountBoundElsewhere, "Your account is registered to a different device. Sign in from that device, or ask an administrator to reset your device binding."},
	{ErrLocationUnavailable, "Location could not be determined. Enable location services and allow location access, then try again."},
	{ErrShiftAlreadyOpen, "You are already checked in. Check out before starting a new shift."},
	{ErrNoOpenShift, "You are not checked in."},
	{ErrCorruptPayload, "The transfer data could not be read. Copy the complete code again and retry."},
	{ErrInvalidCredentials, "Incorrect username or password."},
}

// Remediation 返回面向用户的处理建议；未知错误返回空串
func Remediation(err error) string {
	for _, r := range remediations {
		if errors.Is(err, r.err) {
			return r.text
		}
	}
	return ""
}

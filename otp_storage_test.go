package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOtpCodeRoundTrip(t *testing.T) {
	store := NewInMemoryOtpStore()
	require.NoError(t, store.StoreCode("+919876543210", "123456"))

	valid, err := store.VerifyCode("+919876543210", "123456")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestOtpWrongCodeIsNotConsumed(t *testing.T) {
	store := NewInMemoryOtpStore()
	require.NoError(t, store.StoreCode("+919876543210", "123456"))

	valid, err := store.VerifyCode("+919876543210", "654321")
	require.NoError(t, err)
	require.False(t, valid)

	// the right code still works after a wrong attempt
	valid, err = store.VerifyCode("+919876543210", "123456")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestOtpCodeIsSingleUse(t *testing.T) {
	store := NewInMemoryOtpStore()
	require.NoError(t, store.StoreCode("+919876543210", "123456"))

	valid, err := store.VerifyCode("+919876543210", "123456")
	require.NoError(t, err)
	require.True(t, valid)

	valid, err = store.VerifyCode("+919876543210", "123456")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestOtpCodeExpires(t *testing.T) {
	store := NewInMemoryOtpStore()
	require.NoError(t, store.StoreCode("+919876543210", "123456"))

	store.now = func() time.Time { return time.Now().Add(OtpCodeTimeout + time.Second) }

	valid, err := store.VerifyCode("+919876543210", "123456")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestOtpNewCodeReplacesOld(t *testing.T) {
	store := NewInMemoryOtpStore()
	require.NoError(t, store.StoreCode("+919876543210", "111111"))
	require.NoError(t, store.StoreCode("+919876543210", "222222"))

	valid, err := store.VerifyCode("+919876543210", "111111")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestVerifiedMarkerLifecycle(t *testing.T) {
	store := NewInMemoryOtpStore()

	verified, err := store.IsVerified("+919876543210")
	require.NoError(t, err)
	require.False(t, verified)

	require.NoError(t, store.MarkVerified("+919876543210"))
	verified, err = store.IsVerified("+919876543210")
	require.NoError(t, err)
	require.True(t, verified)

	require.NoError(t, store.ClearVerified("+919876543210"))
	verified, err = store.IsVerified("+919876543210")
	require.NoError(t, err)
	require.False(t, verified)
}

func TestVerifiedMarkerExpires(t *testing.T) {
	store := NewInMemoryOtpStore()
	require.NoError(t, store.MarkVerified("+919876543210"))

	store.now = func() time.Time { return time.Now().Add(OtpVerifiedTimeout + time.Second) }

	verified, err := store.IsVerified("+919876543210")
	require.NoError(t, err)
	require.False(t, verified)
}

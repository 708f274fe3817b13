package auth

import "time"

// Precision is the resolution of every instant that takes part in the
// password-change cutoff. Both store adapters keep it losslessly.
const Precision = time.Millisecond

// Truncate drops everything below Precision.
func Truncate(t time.Time) time.Time {
	return t.Truncate(Precision)
}

// ChangedPasswordAfter reports whether the password was changed after a token
// issued at issuedAt, which makes the token stale. A token issued in the same
// instant as the change is the one handed out by that change and stays valid.
// So does any other token issued within that same millisecond, such as one
// from a concurrent login.
func ChangedPasswordAfter(passwordChangedAt *time.Time, issuedAt time.Time) bool {
	if passwordChangedAt == nil || passwordChangedAt.IsZero() {
		return false
	}
	return Truncate(issuedAt).Before(Truncate(*passwordChangedAt))
}

package cache

import "fmt"

const (
	RateLimitKeyPrefix = "rl:%s:%s"
)

// RateLimitKey is the counter key for one caller of one limited resource.
func RateLimitKey(resource, caller string) string {
	return fmt.Sprintf(RateLimitKeyPrefix, resource, caller)
}

// UserCaller identifies an authenticated caller in rate limit keys.
func UserCaller(userID string) string {
	return "user:" + userID
}

// IPCaller identifies an anonymous caller in rate limit keys.
func IPCaller(ip string) string {
	return "ip:" + ip
}

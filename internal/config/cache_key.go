package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key for a user's active login session (JTI).
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// AttemptAnswersKey returns the cache key for an attempt's buffered answers.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptViolationsKey returns the cache key for an attempt's live violation counter.
func (r *CacheKeyStruct) AttemptViolationsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// AttemptStartKey returns the cache key for an attempt's start timestamp.
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

// AttemptSubmitLeaseKey returns the key for the per-attempt submit lock.
func (r *CacheKeyStruct) AttemptSubmitLeaseKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:submit_lease", attemptID)
}

// StudentActiveAttemptKey returns the cache key for a student's open attempt on an exam.
func (r *CacheKeyStruct) StudentActiveAttemptKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:attempt", studentID, examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()

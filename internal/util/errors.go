package util

import "errors"

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInvalidProgress      = errors.New("invalid progress update")
	ErrLessonNotFound       = errors.New("lesson not found")
	ErrLessonCourseMismatch = errors.New("lesson does not belong to course")
	ErrCertificateNotFound  = errors.New("certificate not found")
	ErrCourseIncomplete     = errors.New("course not completed")
	ErrUnsupportedQueue     = errors.New("unsupported offline queue version")
	// ErrRejected 后端明确拒绝且重试也不会成功的请求
	ErrRejected             = errors.New("rejected by backend")
)

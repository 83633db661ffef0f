package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	QueueStoreFile  = "file"
	QueueStoreRedis = "redis"
)

const (
	ModeBackend = "backend"
	ModeAgent   = "agent"
)

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

package models

// Organization owns courses and files and carries tier-based upload limits
type Organization struct {
	ID                string `json:"id" badgerhold:"key"`
	Name              string `json:"name"`
	Tier              string `json:"tier"` // free, pro, enterprise
	StorageQuotaBytes int64  `json:"storage_quota_bytes"`
	StorageUsedBytes  int64  `json:"storage_used_bytes"`
}

// User is recorded for attribution on jobs; authorization is out of scope
type User struct {
	ID             string `json:"id" badgerhold:"key"`
	Email          string `json:"email"`
	Role           string `json:"role"` // admin, instructor, student
	OrganizationID string `json:"organization_id" badgerhold:"index"`
}

// TierLimits describes per-tier upload constraints
type TierLimits struct {
	MaxFileSizeBytes int64
	AllowedMimeTypes []string
}

// LimitsForTier returns the upload limits for an organization tier
func LimitsForTier(tier string) TierLimits {
	switch tier {
	case "enterprise":
		return TierLimits{
			MaxFileSizeBytes: 200 << 20,
			AllowedMimeTypes: defaultMimeTypes,
		}
	case "pro":
		return TierLimits{
			MaxFileSizeBytes: 50 << 20,
			AllowedMimeTypes: defaultMimeTypes,
		}
	default:
		return TierLimits{
			MaxFileSizeBytes: 10 << 20,
			AllowedMimeTypes: defaultMimeTypes,
		}
	}
}

var defaultMimeTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/html",
	"text/markdown",
	"text/plain",
}

package agreement

import "time"

// Agreement is a named, organization-owned container for a sequence of
// versions. The (organization, title) pair is unique.
type Agreement struct {
	ID             string
	OrganizationID string
	Title          string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Page is one ordered content section of a version.
type Page struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Version is one revision of an agreement's content. Version numbers are
// assigned at creation and never reused; integrity fields are stamped at
// publish time and immutable afterwards except through RegenerateBinary.
type Version struct {
	ID            string
	AgreementID   string
	VersionNumber int
	Status        Status
	Pages         []Page
	FileName      *string
	FileBlobID    *string
	EffectiveDate *time.Time
	PublishedBy   *string
	PublishedAt   *time.Time
	BlobID        *string
	ContentHash   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasContent reports whether the version carries anything publishable:
// at least one non-empty page or an uploaded file reference.
func (v *Version) HasContent() bool {
	for _, p := range v.Pages {
		if p.Title != "" || p.Body != "" {
			return true
		}
	}
	return v.FileBlobID != nil && *v.FileBlobID != ""
}

// UserCopy is an immutable, signatory-bound rendition of a published
// version. Display fields are snapshots taken at creation time.
type UserCopy struct {
	ID             string
	VersionID      string
	SignatoryID    string
	SignatoryName  string
	SignatoryEmail string
	SignatoryOrg   string
	BlobID         string
	ContentHash    string
	CreatedAt      time.Time
}

// Acceptance is a forensic record of one signatory accepting one user copy.
// Rows are never mutated or deleted.
type Acceptance struct {
	ID            string
	UserCopyID    string
	SignatoryID   string
	OriginAddress string
	UserAgent     string
	CorrelationID string
	AcceptedAt    time.Time
}

// Event is an append-only audit row written alongside lifecycle operations.
type Event struct {
	ID          int64
	AgreementID string
	VersionID   *string
	Type        string
	ActorID     *string
	CreatedAt   time.Time
	Payload     []byte
}

const (
	EventAgreementCreated   = "AGREEMENT_CREATED"
	EventVersionCreated     = "VERSION_CREATED"
	EventVersionPublished   = "VERSION_PUBLISHED"
	EventVersionRetired     = "VERSION_RETIRED"
	EventBinaryRegenerated  = "VERSION_BINARY_REGENERATED"
	EventUserCopyCreated    = "USER_COPY_CREATED"
	EventAcceptanceRecorded = "ACCEPTANCE_RECORDED"
)

package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Website struct {
	ID        string
	Name      string
	Domain    string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership ties a user to a website with a role (owner, admin, editor, viewer).
type Membership struct {
	WebsiteID string
	UserID    string
	Role      string
	CreatedAt time.Time
}

type Content struct {
	ID          string
	WebsiteID   string
	Slug        string
	Title       string
	Body        string
	Excerpt     string
	Status      string // draft, review, published
	AuthorID    string
	UpdatedBy   string
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// VersionNumber is the watermark: the latest recorded version for this
	// content item. Strictly increasing, never reset.
	VersionNumber int
}

// Snapshot is the versioned portion of a content item.
type Snapshot struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Excerpt string `json:"excerpt"`
}

// ContentVersion is an immutable snapshot of content at a version number.
// Rows are append-only; they are never updated, only pruned by retention.
type ContentVersion struct {
	ID            string
	ContentID     string
	VersionNumber int
	Title         string
	Body          string
	Excerpt       string
	AuthorID      string
	ChangeSummary string
	CreatedAt     time.Time
}

func (v ContentVersion) Snapshot() Snapshot {
	return Snapshot{Title: v.Title, Body: v.Body, Excerpt: v.Excerpt}
}

type Attachment struct {
	ID          string
	ContentID   string
	Filename    string
	ObjectKey   string
	SizeBytes   int64
	ContentType string
	UploadedBy  string
	CreatedAt   time.Time
}

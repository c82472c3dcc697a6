package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"storyslip/api/internal/archive"
	"storyslip/api/internal/auth"
	"storyslip/api/internal/authpw"
	"storyslip/api/internal/config"
	"storyslip/api/internal/conflicts"
	"storyslip/api/internal/email"
	"storyslip/api/internal/export"
	"storyslip/api/internal/locks"
	"storyslip/api/internal/media"
	"storyslip/api/internal/rbac"
	"storyslip/api/internal/search"
	"storyslip/api/internal/store"
	"storyslip/api/internal/util"
	"storyslip/api/internal/versions"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type ContentInput struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Excerpt string `json:"excerpt"`
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertWebsite(ctx context.Context, website store.Website) error
	GetWebsite(ctx context.Context, websiteID string) (store.Website, error)
	ListWebsitesForUser(ctx context.Context, userID string) ([]store.Website, error)
	MembershipRole(ctx context.Context, websiteID, userID string) (string, error)
	UpsertMembership(ctx context.Context, websiteID, userID, role string) error

	InsertContent(ctx context.Context, item store.Content) error
	GetContent(ctx context.Context, websiteID, contentID string) (store.Content, error)
	ListContent(ctx context.Context, websiteID string, limit, offset int) ([]store.Content, error)
	PublishContent(ctx context.Context, websiteID, contentID, updatedBy string) error
	DeleteContent(ctx context.Context, websiteID, contentID string) error

	InsertAttachment(ctx context.Context, attachment store.Attachment) error
	ListAttachments(ctx context.Context, contentID string) ([]store.Attachment, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions; Postgres by default, Redis when
// configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// versionService is the version-history surface the app layer consumes.
type versionService interface {
	Record(ctx context.Context, contentID string, snapshot store.Snapshot, author versions.Author, changeSummary string) (store.ContentVersion, error)
	Get(ctx context.Context, contentID string, versionNumber int) (store.ContentVersion, error)
	List(ctx context.Context, contentID string, limit, offset int) ([]store.ContentVersion, int, error)
	Latest(ctx context.Context, contentID string) (store.ContentVersion, error)
	Compare(ctx context.Context, contentID string, version1, version2 int) (versions.Comparison, error)
	Restore(ctx context.Context, contentID string, versionNumber int, author versions.Author) (store.ContentVersion, error)
	History(contentID string, limit int) ([]archive.CommitInfo, error)
	Cleanup(ctx context.Context, keep int) (int64, error)
}

type conflictDetector interface {
	Check(ctx context.Context, contentID, userID string, baseVersion *int) (conflicts.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	locks    locks.Manager
	versions versionService
	detector conflictDetector
	search   *search.Service
	export   *export.Service
	media    *media.Service
	email    *email.Service
	authpw   *authpw.Service
}

// Deps bundles the constructed dependencies wired in main. search, export,
// media, email, and authpw may be nil; the corresponding endpoints report
// themselves unavailable.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Locks    locks.Manager
	Versions versionService
	Detector conflictDetector
	Search   *search.Service
	Export   *export.Service
	Media    *media.Service
	Email    *email.Service
	AuthPW   *authpw.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		locks:    deps.Locks,
		versions: deps.Versions,
		detector: deps.Detector,
		search:   deps.Search,
		export:   deps.Export,
		media:    deps.Media,
		email:    deps.Email,
		authpw:   deps.AuthPW,
	}
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) BaseURL() string {
	return s.cfg.BaseURL
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) VersionRetain() int {
	return s.cfg.VersionRetain
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Sessions ──

func (s *Service) IssueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewToken("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Rotate: the old refresh token is dead the moment it is used.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Websites ──

// roleOn resolves the caller's role on a website. Missing membership maps to
// 403 so handlers can pass errors straight to mapError.
func (s *Service) roleOn(ctx context.Context, websiteID, userID string) (rbac.Role, error) {
	role, err := s.store.MembershipRole(ctx, websiteID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return rbac.Normalize(role), nil
}

func (s *Service) authorize(ctx context.Context, websiteID, userID string, action rbac.Action) (rbac.Role, error) {
	role, err := s.roleOn(ctx, websiteID, userID)
	if err != nil {
		return "", err
	}
	if !rbac.Can(role, action) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return role, nil
}

func (s *Service) CreateWebsite(ctx context.Context, session Session, name, domain string) (store.Website, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Website{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	website := store.Website{
		ID:      util.NewUUID(),
		Name:    name,
		Domain:  strings.TrimSpace(domain),
		OwnerID: session.UserID,
	}
	if err := s.store.InsertWebsite(ctx, website); err != nil {
		return store.Website{}, err
	}
	return s.store.GetWebsite(ctx, website.ID)
}

func (s *Service) ListWebsites(ctx context.Context, session Session) ([]store.Website, error) {
	return s.store.ListWebsitesForUser(ctx, session.UserID)
}

func (s *Service) GetWebsite(ctx context.Context, session Session, websiteID string) (store.Website, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return store.Website{}, err
	}
	return s.store.GetWebsite(ctx, websiteID)
}

func (s *Service) AddMember(ctx context.Context, session Session, websiteID, memberEmail, role string) error {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionManage); err != nil {
		return err
	}
	normalized := rbac.Normalize(role)
	if normalized == rbac.RoleOwner {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ownership is not assignable", nil)
	}

	member, err := s.store.GetUserByEmail(ctx, memberEmail)
	if err != nil {
		return domainError(http.StatusNotFound, "NOT_FOUND", "No account with that email", nil)
	}
	return s.store.UpsertMembership(ctx, websiteID, member.ID, string(normalized))
}

// ── Content ──

func (s *Service) CreateContent(ctx context.Context, session Session, websiteID string, input ContentInput) (store.Content, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return store.Content{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Content{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(input.Title)
	}

	item := store.Content{
		ID:        util.NewUUID(),
		WebsiteID: websiteID,
		Slug:      slug,
		Title:     input.Title,
		Body:      input.Body,
		Excerpt:   input.Excerpt,
		Status:    "draft",
		AuthorID:  session.UserID,
		UpdatedBy: session.UserID,
	}
	if err := s.store.InsertContent(ctx, item); err != nil {
		return store.Content{}, err
	}

	// The initial save is version 1.
	author := versions.Author{ID: session.UserID, Name: session.UserName}
	snapshot := store.Snapshot{Title: input.Title, Body: input.Body, Excerpt: input.Excerpt}
	if _, err := s.versions.Record(ctx, item.ID, snapshot, author, "Initial version"); err != nil {
		return store.Content{}, err
	}

	created, err := s.store.GetContent(ctx, websiteID, item.ID)
	if err != nil {
		return store.Content{}, err
	}
	s.indexContent(created)
	return created, nil
}

func (s *Service) GetContent(ctx context.Context, session Session, websiteID, contentID string) (store.Content, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return store.Content{}, err
	}
	return s.store.GetContent(ctx, websiteID, contentID)
}

func (s *Service) ListContent(ctx context.Context, session Session, websiteID string, limit, offset int) ([]store.Content, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListContent(ctx, websiteID, limit, offset)
}

func (s *Service) PublishContent(ctx context.Context, session Session, websiteID, contentID string) (store.Content, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionPublish); err != nil {
		return store.Content{}, err
	}
	if err := s.store.PublishContent(ctx, websiteID, contentID, session.UserID); err != nil {
		return store.Content{}, err
	}
	published, err := s.store.GetContent(ctx, websiteID, contentID)
	if err != nil {
		return store.Content{}, err
	}
	s.indexContent(published)
	return published, nil
}

// DeleteContent removes a content item with its whole history; versions,
// locks, and attachments cascade away in the store.
func (s *Service) DeleteContent(ctx context.Context, session Session, websiteID, contentID string) error {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.store.DeleteContent(ctx, websiteID, contentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteContent(contentID)
	}
	return nil
}

func (s *Service) SearchContent(ctx context.Context, session Session, websiteID string, q search.Query) (search.Response, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	q.FilterWebsiteID = websiteID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) indexContent(item store.Content) {
	if s.search == nil {
		return
	}
	s.search.IndexContent(search.ContentRecord{
		ID:        item.ID,
		WebsiteID: item.WebsiteID,
		Title:     item.Title,
		Excerpt:   item.Excerpt,
		Body:      item.Body,
		Status:    item.Status,
	})
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

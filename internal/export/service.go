package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// DataStore defines the data access the export service needs.
type DataStore interface {
	GetVersionInfo(ctx context.Context, websiteID, contentID string, versionNumber int) (VersionInfo, error)
}

// VersionInfo holds everything the template needs for one version.
type VersionInfo struct {
	Title       string
	Excerpt     string
	BodyHTML    string
	AuthorName  string
	WebsiteName string
	Version     int
	CreatedAt   time.Time
}

// Service renders content versions to HTML, PDF, or DOCX.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export of one version in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetVersionInfo(ctx, req.WebsiteID, req.ContentID, req.VersionNumber)
	if err != nil {
		return nil, err
	}

	html, err := RenderVersionHTML(TemplateData{
		Title:       info.Title,
		Excerpt:     info.Excerpt,
		ContentHTML: template.HTML(info.BodyHTML),
		Author:      info.AuthorName,
		WebsiteName: info.WebsiteName,
		Version:     info.Version,
		CreatedAt:   info.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(info.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, info.Title)
	case FormatDOCX:
		return exportDOCX(html, info.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

package model

import "time"

// MediaAsset is one uploaded track. StorageURL must resolve to the stored
// bytes for as long as the asset is listed; when the catalog and the
// filesystem disagree the filesystem wins.
type MediaAsset struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Title      string    `json:"title"`
	StorageURL string    `json:"storage_url"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

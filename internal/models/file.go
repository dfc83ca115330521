package models

import "time"

// VectorStatus represents the indexing state of an uploaded document
type VectorStatus string

const (
	VectorStatusPending VectorStatus = "pending"
	VectorStatusIndexed VectorStatus = "indexed"
	VectorStatusReady   VectorStatus = "ready"
	VectorStatusFailed  VectorStatus = "failed"
)

// File represents one uploaded source document in the file catalog.
// Created by the upload stage, mutated by processing and summarization.
// Terminal when vector_status is ready/indexed or failed.
type File struct {
	ID               string       `json:"id" badgerhold:"key"`
	CourseID         string       `json:"course_id" badgerhold:"index"`
	OrganizationID   string       `json:"organization_id"`
	Filename         string       `json:"filename"`
	MimeType         string       `json:"mime_type"`
	FileSize         int64        `json:"file_size"`
	StoragePath      string       `json:"storage_path"`
	Hash             string       `json:"hash,omitempty"`
	VectorStatus     VectorStatus `json:"vector_status" badgerhold:"index"`
	MarkdownContent  string       `json:"markdown_content,omitempty"`
	ProcessedContent string       `json:"processed_content,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Parsed reports whether document processing produced markdown for this file.
// Summarization only runs on parsed files.
func (f *File) Parsed() bool {
	return f.MarkdownContent != ""
}

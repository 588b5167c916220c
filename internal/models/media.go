package models

// ObjectKind names the entity whose image needs derivatives.
type ObjectKind string

const (
	KindUser                 ObjectKind = "User"
	KindUserPhoto            ObjectKind = "UserPhoto"
	KindUserStatusAttachment ObjectKind = "UserStatusAttachment"
	KindSlaveTell            ObjectKind = "SlaveTell"
	KindPostAttachment       ObjectKind = "PostAttachment"
)

// ObjectRef identifies the subject of a thumbnail job.
type ObjectRef struct {
	Kind ObjectKind `json:"kind"`
	ID   int64      `json:"id"`
}

// MediaSource is what the thumbnailer needs to know about an object.
// Fields that do not apply to the kind are empty.
type MediaSource struct {
	Ref          ObjectRef
	Original     string // photo_original / string_original / photo
	Preview      string // photo_preview / string_preview
	Contents     string // SlaveTell contents
	Type         string // SlaveTell type
	MIMEType     string // declared MIME of Original
	ContentsMIME string // declared MIME of Contents
}

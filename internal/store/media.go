package store

import (
	"context"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

var mediaQueries = map[models.ObjectKind]string{
	models.KindUser: `SELECT COALESCE(photo_original, ''), COALESCE(photo_preview, ''), '', '', ''
		FROM api_users WHERE id = $1`,
	models.KindUserPhoto: `SELECT string_original, COALESCE(string_preview, ''), '', '', ''
		FROM api_users_photos WHERE id = $1`,
	models.KindUserStatusAttachment: `SELECT string_original, COALESCE(string_preview, ''), '', '', ''
		FROM api_users_statuses_attachments WHERE id = $1`,
	models.KindSlaveTell: `SELECT COALESCE(photo, ''), '', contents, type, ''
		FROM api_slave_tells WHERE id = $1`,
	models.KindPostAttachment: `SELECT string_original, COALESCE(string_preview, ''), '', '', type
		FROM api_posts_attachments WHERE id = $1`,
}

var mediaListQueries = []struct {
	kind  models.ObjectKind
	query string
}{
	{models.KindUser, `SELECT id FROM api_users WHERE COALESCE(photo_original, '') <> '' ORDER BY id`},
	{models.KindUserPhoto, `SELECT id FROM api_users_photos ORDER BY id`},
	{models.KindUserStatusAttachment, `SELECT id FROM api_users_statuses_attachments ORDER BY id`},
	{models.KindSlaveTell, `SELECT id FROM api_slave_tells ORDER BY id`},
	{models.KindPostAttachment, `SELECT id FROM api_posts_attachments ORDER BY id`},
}

// GetMediaSource resolves the image fields of the referenced object.
func (s *Store) GetMediaSource(ctx context.Context, ref models.ObjectRef) (*models.MediaSource, error) {
	query, ok := mediaQueries[ref.Kind]
	if !ok {
		return nil, apperr.E(apperr.Permanent, "unknown object kind %q", ref.Kind)
	}
	src := models.MediaSource{Ref: ref}
	err := s.db.QueryRowContext(ctx, query, ref.ID).Scan(&src.Original, &src.Preview, &src.Contents, &src.Type, &src.MIMEType)
	if err != nil {
		return nil, mapErr("get media source", err)
	}
	return &src, nil
}

// ListMediaRefs enumerates every object that may carry an image.
func (s *Store) ListMediaRefs(ctx context.Context) ([]models.ObjectRef, error) {
	var out []models.ObjectRef
	for _, q := range mediaListQueries {
		ids, err := s.listIDs(ctx, q.query)
		if err != nil {
			return nil, mapErr("list media", err)
		}
		for _, id := range ids {
			out = append(out, models.ObjectRef{Kind: q.kind, ID: id})
		}
	}
	return out, nil
}

func (s *Store) listIDs(ctx context.Context, query string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

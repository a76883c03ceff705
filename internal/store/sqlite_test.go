package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	s, err := Open(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func save(t *testing.T, s *Store, id, from string, to []string, attachments ...Attachment) {
	t.Helper()

	require.NoError(t, s.Save(context.Background(), Capture{
		ID:          id,
		From:        from,
		To:          to,
		Subject:     "subject " + id,
		TextBody:    "body",
		Raw:         []byte("Subject: " + id + "\r\n\r\nbody"),
		CreatedAt:   time.Unix(1700000000, 0),
		Attachments: attachments,
	}))
}

func ids(page Page) []string {
	out := make([]string, 0, len(page.Captures))
	for _, c := range page.Captures {
		out = append(out, c.ID)
	}
	return out
}

func TestStore_ListOrderAndFilter(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	save(t, s, "m1", "me@x.com", []string{"a@x.com"})
	save(t, s, "m2", "me@x.com", []string{"b@x.com"}, Attachment{Filename: "logo.png", ContentType: "image/png", Data: []byte{1}})
	save(t, s, "m3", "other@x.com", []string{"a@x.com"})

	page, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.EqualValues(t, 3, page.Total)
	require.Equal(t, []string{"m3", "m2", "m1"}, ids(page))
	require.True(t, page.Captures[1].HasAttachments)
	require.False(t, page.Captures[0].HasAttachments)
	require.Equal(t, []string{"b@x.com"}, page.Captures[1].To)

	page, err = s.List(ctx, Filter{Address: " A@X.com ", Oldest: true})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
	require.Equal(t, []string{"m1", "m3"}, ids(page))

	page, err = s.List(ctx, Filter{Address: "other@x.com"})
	require.NoError(t, err)
	require.Equal(t, []string{"m3"}, ids(page))

	page, err = s.List(ctx, Filter{Oldest: true, Offset: 2, Limit: 10})
	require.NoError(t, err)
	require.EqualValues(t, 3, page.Total)
	require.Equal(t, []string{"m3"}, ids(page))
}

func TestStore_ListKeepsRecipientOrder(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	to := []string{"c@x.com", "a@x.com", "b@x.com"}
	save(t, s, "m1", "me@x.com", to)
	save(t, s, "m2", "me@x.com", nil)

	page, err := s.List(ctx, Filter{Oldest: true})
	require.NoError(t, err)
	require.Equal(t, to, page.Captures[0].To)
	require.Empty(t, page.Captures[1].To)

	c, err := s.Capture(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, to, c.To)
}

func TestStore_CaptureAndAttachment(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	save(t, s, "m1", "me@x.com", []string{"a@x.com"}, Attachment{Filename: "logo.png", ContentType: "image/png", Data: []byte("png")})

	c, err := s.Capture(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "me@x.com", c.From)
	require.Equal(t, []string{"a@x.com"}, c.To)
	require.Equal(t, "body", c.TextBody)
	require.EqualValues(t, len("Subject: m1\r\n\r\nbody"), c.Size())
	require.Len(t, c.Attachments, 1)
	require.Nil(t, c.Attachments[0].Data)
	require.EqualValues(t, 3, c.Attachments[0].Size)

	a, err := s.Attachment(ctx, c.Attachments[0].ID)
	require.NoError(t, err)
	require.Equal(t, []byte("png"), a.Data)
	require.Equal(t, "logo.png", a.Filename)

	_, err = s.Capture(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Attachment(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	save(t, s, "m1", "me@x.com", []string{"a@x.com"})

	err := s.Save(context.Background(), Capture{ID: "m1", From: "me@x.com", To: []string{"b@x.com"}, Raw: []byte("x")})
	require.Error(t, err)

	page, err := s.List(context.Background(), Filter{Address: "b@x.com"})
	require.NoError(t, err)
	require.Zero(t, page.Total)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	save(t, s, "m1", "me@x.com", []string{"a@x.com"}, Attachment{Filename: "a.png", ContentType: "image/png", Data: []byte{1}})
	save(t, s, "m2", "me@x.com", []string{"b@x.com"})

	removed, err := s.Clear(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	page, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.Empty(t, page.Captures)
}

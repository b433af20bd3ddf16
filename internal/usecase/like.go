package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/halcyon-social/halcyon"
	"github.com/halcyon-social/halcyon/internal/domain"
)

// LikeHandler instantiates the record handler contract for likes. The logical
// key is (creator, subject): a second like from the same creator on the same
// subject supersedes the first.
type LikeHandler struct {
	repo        LikeRepository
	invalidator CountInvalidator
}

func NewLikeHandler(repo LikeRepository, invalidator CountInvalidator) *LikeHandler {
	return &LikeHandler{
		repo:        repo,
		invalidator: invalidator,
	}
}

func (h *LikeHandler) Kind() string {
	return halcyon.KindLike
}

// parse validates the event and builds the projection row. sortAt is the
// earlier of the remote createdAt and the local indexedAt, which bounds the
// damage a skewed remote clock can do to global ordering.
func (h *LikeHandler) parse(ev halcyon.RecordEvent) (domain.Like, error) {
	creator, _, _, err := halcyon.ParseActionURI(ev.URI)
	if err != nil {
		return domain.Like{}, domain.ValidationError{Reason: "malformed record uri"}
	}

	var rec halcyon.LikeRecord
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		return domain.Like{}, domain.ValidationError{Reason: "unparsable payload"}
	}

	if rec.Subject == "" {
		return domain.Like{}, domain.ValidationError{Reason: "missing subject"}
	}
	if rec.Subject == ev.URI {
		return domain.Like{}, domain.ValidationError{Reason: "self-referential subject"}
	}
	if _, err := halcyon.OwnerOf(rec.Subject); err != nil {
		return domain.Like{}, domain.ValidationError{Reason: "malformed subject uri"}
	}

	indexedAt := ev.ObservedAt.UTC()
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	createdAt := rec.CreatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		createdAt = indexedAt
	}

	sortAt := createdAt
	if indexedAt.Before(createdAt) {
		sortAt = indexedAt
	}

	return domain.Like{
		URI:         ev.URI,
		ContentHash: ev.ContentHash,
		Creator:     creator,
		Subject:     rec.Subject,
		SubjectHash: rec.SubjectHash,
		CreatedAt:   createdAt,
		IndexedAt:   indexedAt,
		SortAt:      sortAt,
	}, nil
}

func (h *LikeHandler) Validate(ev halcyon.RecordEvent) error {
	_, err := h.parse(ev)
	return err
}

func (h *LikeHandler) Insert(ctx context.Context, ev halcyon.RecordEvent) (*domain.Like, error) {
	like, err := h.parse(ev)
	if err != nil {
		return nil, err
	}
	return h.repo.Insert(ctx, like)
}

func (h *LikeHandler) InsertBulk(ctx context.Context, evs []halcyon.RecordEvent) ([]domain.Like, error) {
	likes := make([]domain.Like, 0, len(evs))
	for _, ev := range evs {
		like, err := h.parse(ev)
		if err != nil {
			return nil, err
		}
		likes = append(likes, like)
	}
	return h.repo.InsertBulk(ctx, likes)
}

func (h *LikeHandler) FindDuplicate(ctx context.Context, ev halcyon.RecordEvent) (string, error) {
	like, err := h.parse(ev)
	if err != nil {
		return "", err
	}
	return h.repo.FindActive(ctx, like.Creator, like.Subject)
}

func (h *LikeHandler) Delete(ctx context.Context, uri string) (*domain.Like, error) {
	return h.repo.Delete(ctx, uri)
}

func (h *LikeHandler) NotifsForInsert(row domain.Like) []domain.NotificationIntent {
	owner, err := halcyon.OwnerOf(row.Subject)
	if err != nil {
		return nil
	}
	if owner == row.Creator {
		// no self-notification
		return nil
	}

	return []domain.NotificationIntent{{
		Recipient:     owner,
		Actor:         row.Creator,
		RecordURI:     row.URI,
		RecordHash:    row.ContentHash,
		Reason:        domain.ReasonLike,
		ReasonSubject: row.Subject,
		SortAt:        row.SortAt,
	}}
}

func (h *LikeHandler) NotifsForDelete(deleted domain.Like, replacedBy *domain.Like) domain.DeleteNotifs {
	if replacedBy != nil {
		return domain.DeleteNotifs{}
	}
	return domain.DeleteNotifs{
		RetractURIs: []string{deleted.URI},
	}
}

func (h *LikeHandler) UpdateAggregates(ctx context.Context, row domain.Like) error {
	return h.recount(ctx, []string{row.Subject})
}

func (h *LikeHandler) UpdateAggregatesBulk(ctx context.Context, rows []domain.Like) error {
	seen := make(map[string]struct{}, len(rows))
	subjects := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.Subject]; ok {
			continue
		}
		seen[row.Subject] = struct{}{}
		subjects = append(subjects, row.Subject)
	}
	if len(subjects) == 0 {
		return nil
	}
	return h.recount(ctx, subjects)
}

func (h *LikeHandler) AggregateKey(row domain.Like) string {
	return row.Subject
}

func (h *LikeHandler) recount(ctx context.Context, subjects []string) error {
	if err := h.repo.RecountSubjects(ctx, subjects); err != nil {
		return err
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(ctx, subjects)
	}
	return nil
}

// LikeQueryUsecase serves the read surface of the projection.
type LikeQueryUsecase struct {
	repo LikeRepository
}

func NewLikeQueryUsecase(repo LikeRepository) *LikeQueryUsecase {
	return &LikeQueryUsecase{repo: repo}
}

func (uc *LikeQueryUsecase) ListBySubject(ctx context.Context, subject string, limit int) ([]domain.Like, error) {
	return uc.repo.ListBySubject(ctx, subject, limit)
}

func (uc *LikeQueryUsecase) GetCount(ctx context.Context, subject string) (int64, error) {
	return uc.repo.GetCount(ctx, subject)
}

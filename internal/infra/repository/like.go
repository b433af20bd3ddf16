package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/halcyon-social/halcyon/internal/domain"
	"github.com/halcyon-social/halcyon/internal/infra/database/models"
)

const insertBatchSize = 500

type LikeRepository struct {
	db *gorm.DB
}

func NewLikeRepository(db *gorm.DB) *LikeRepository {
	return &LikeRepository{db: db}
}

func (r *LikeRepository) Insert(ctx context.Context, like domain.Like) (*domain.Like, error) {
	m := toModel(like)

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uri"}},
		DoNothing: true,
	}).Create(&m)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// uri already indexed: duplicate delivery
		return nil, nil
	}

	row := toDomain(m)
	return &row, nil
}

func (r *LikeRepository) InsertBulk(ctx context.Context, likes []domain.Like) ([]domain.Like, error) {
	if len(likes) == 0 {
		return nil, nil
	}

	ms := make([]models.Like, 0, len(likes))
	uris := make([]string, 0, len(likes))
	for _, like := range likes {
		ms = append(ms, toModel(like))
		uris = append(uris, like.URI)
	}

	var fresh []models.Like
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&models.Like{}).
			Where("uri IN ?", uris).
			Pluck("uri", &existing).Error; err != nil {
			return err
		}

		skip := make(map[string]struct{}, len(existing))
		for _, uri := range existing {
			skip[uri] = struct{}{}
		}

		fresh = fresh[:0]
		for _, m := range ms {
			if _, ok := skip[m.URI]; ok {
				continue
			}
			fresh = append(fresh, m)
		}
		if len(fresh) == 0 {
			return nil
		}

		// the conflict clause still guards against writers racing the filter
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uri"}},
			DoNothing: true,
		}).CreateInBatches(&fresh, insertBatchSize).Error
	})
	if err != nil {
		return nil, err
	}

	inserted := make([]domain.Like, 0, len(fresh))
	for _, m := range fresh {
		inserted = append(inserted, toDomain(m))
	}
	return inserted, nil
}

func (r *LikeRepository) FindActive(ctx context.Context, creator, subject string) (string, error) {
	var uris []string
	err := r.db.WithContext(ctx).Model(&models.Like{}).
		Where("creator = ? AND subject = ?", creator, subject).
		Limit(1).
		Pluck("uri", &uris).Error
	if err != nil {
		return "", err
	}
	if len(uris) == 0 {
		return "", nil
	}
	return uris[0], nil
}

func (r *LikeRepository) Delete(ctx context.Context, uri string) (*domain.Like, error) {
	var m models.Like
	result := r.db.WithContext(ctx).Clauses(clause.Returning{}).
		Where("uri = ?", uri).
		Delete(&m)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// already deleted
		return nil, nil
	}

	row := toDomain(m)
	return &row, nil
}

func (r *LikeRepository) RecountSubjects(ctx context.Context, subjects []string) error {
	if len(subjects) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		type recountRow struct {
			Subject string
			Count   int64
		}

		var rows []recountRow
		if err := tx.Model(&models.Like{}).
			Select("subject, count(*) AS count").
			Where("subject IN ?", subjects).
			Group("subject").
			Scan(&rows).Error; err != nil {
			return err
		}

		// subjects with no remaining rows recount to zero
		counts := make(map[string]int64, len(subjects))
		for _, subject := range subjects {
			counts[subject] = 0
		}
		for _, row := range rows {
			counts[row.Subject] = row.Count
		}

		upserts := make([]models.LikeCount, 0, len(subjects))
		for _, subject := range subjects {
			upserts = append(upserts, models.LikeCount{
				Subject: subject,
				Count:   counts[subject],
			})
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject"}},
			DoUpdates: clause.AssignmentColumns([]string{"count"}),
		}).Create(&upserts).Error
	})
}

func (r *LikeRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]domain.Like, error) {
	var ms []models.Like
	err := r.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("sort_at DESC").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}

	likes := make([]domain.Like, 0, len(ms))
	for _, m := range ms {
		likes = append(likes, toDomain(m))
	}
	return likes, nil
}

func (r *LikeRepository) GetCount(ctx context.Context, subject string) (int64, error) {
	var m models.LikeCount
	err := r.db.WithContext(ctx).
		Where("subject = ?", subject).
		Take(&m).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Count, nil
}

func toModel(like domain.Like) models.Like {
	return models.Like{
		URI:         like.URI,
		ContentHash: like.ContentHash,
		Creator:     like.Creator,
		Subject:     like.Subject,
		SubjectHash: like.SubjectHash,
		CreatedAt:   like.CreatedAt,
		IndexedAt:   like.IndexedAt,
		SortAt:      like.SortAt,
	}
}

func toDomain(m models.Like) domain.Like {
	return domain.Like{
		URI:         m.URI,
		ContentHash: m.ContentHash,
		Creator:     m.Creator,
		Subject:     m.Subject,
		SubjectHash: m.SubjectHash,
		CreatedAt:   m.CreatedAt,
		IndexedAt:   m.IndexedAt,
		SortAt:      m.SortAt,
	}
}

// Package security exposes the audit log to the admin surface.
package security

import (
	"context"
	"time"

	"trustgate/internal/domain"
)

type Repository interface {
	FindAll(ctx context.Context, limit, offset int) ([]domain.SecurityAuditEvent, error)
	FindSince(ctx context.Context, since time.Time, limit int) ([]domain.SecurityAuditEvent, error)
	CountAll(ctx context.Context) (int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetAuditEvents(ctx context.Context, limit, offset int) ([]domain.SecurityAuditEvent, int, error) {
	events, err := s.repo.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *Service) GetAuditEventsSince(ctx context.Context, since time.Time, limit int) ([]domain.SecurityAuditEvent, error) {
	return s.repo.FindSince(ctx, since, limit)
}

package referral

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"crm-backend/internal/types"
)

type Repository interface {
	Getter
	GetByUserID(ctx context.Context, userID string) (Node, error)
	GetByCode(ctx context.Context, code string) (Node, error)
	Create(ctx context.Context, n Node) (Node, error)
	UpdateActivation(ctx context.Context, id, code string, status types.ReferralStatus) (Node, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Enroll creates the user's node. With a code, the node hangs under the code's
// owner, who must be active; without one it becomes a root. New nodes start pending.
func (s *Service) Enroll(ctx context.Context, userID, code string) (Node, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Node{}, ErrUserIDRequired
	}
	if _, err := s.repo.GetByUserID(ctx, userID); err == nil {
		return Node{}, ErrAlreadyEnrolled
	} else if !errors.Is(err, ErrNotFound) {
		return Node{}, err
	}

	node := Node{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: types.ReferralStatusPending,
	}
	if normalized := normalizeCode(code); normalized != "" {
		parent, err := s.repo.GetByCode(ctx, normalized)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Node{}, ErrInvalidCode
			}
			return Node{}, err
		}
		if parent.Status != types.ReferralStatusActive || parent.UserID == userID {
			return Node{}, ErrInvalidCode
		}
		node.ParentID = parent.ID
		node.Level = parent.Level + 1
	}
	return s.repo.Create(ctx, node)
}

// Activate claims the user's own referral code. Activating an active node is a no-op.
func (s *Service) Activate(ctx context.Context, userID string) (Node, error) {
	node, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return Node{}, err
	}
	switch node.Status {
	case types.ReferralStatusActive:
		return node, nil
	case types.ReferralStatusInactive:
		return Node{}, ErrInactive
	}
	return s.repo.UpdateActivation(ctx, node.ID, codeFromUserID(node.UserID), types.ReferralStatusActive)
}

func (s *Service) Deactivate(ctx context.Context, userID string) (Node, error) {
	node, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return Node{}, err
	}
	if node.Status == types.ReferralStatusInactive {
		return node, nil
	}
	return s.repo.UpdateActivation(ctx, node.ID, "", types.ReferralStatusInactive)
}

func (s *Service) Get(ctx context.Context, userID string) (Node, Walk, error) {
	node, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return Node{}, Walk{}, err
	}
	walk, err := Ancestors(ctx, s.repo, node, MaxDepth)
	return node, walk, err
}

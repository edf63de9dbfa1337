package referral

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/types"
)

type memRepo struct {
	byID map[string]Node
}

func newMemRepo(nodes ...Node) *memRepo {
	r := &memRepo{byID: map[string]Node{}}
	for _, n := range nodes {
		r.byID[n.ID] = n
	}
	return r
}

func (r *memRepo) GetByID(ctx context.Context, id string) (Node, error) {
	if n, ok := r.byID[id]; ok {
		return n, nil
	}
	return Node{}, ErrNotFound
}

func (r *memRepo) GetByUserID(ctx context.Context, userID string) (Node, error) {
	for _, n := range r.byID {
		if n.UserID == userID {
			return n, nil
		}
	}
	return Node{}, ErrNotFound
}

func (r *memRepo) GetByCode(ctx context.Context, code string) (Node, error) {
	for _, n := range r.byID {
		if n.ReferralCode != "" && n.ReferralCode == code {
			return n, nil
		}
	}
	return Node{}, ErrNotFound
}

func (r *memRepo) Create(ctx context.Context, n Node) (Node, error) {
	if _, err := r.GetByUserID(ctx, n.UserID); err == nil {
		return Node{}, ErrAlreadyEnrolled
	}
	r.byID[n.ID] = n
	return n, nil
}

func (r *memRepo) UpdateActivation(ctx context.Context, id, code string, status types.ReferralStatus) (Node, error) {
	n, ok := r.byID[id]
	if !ok {
		return Node{}, ErrNotFound
	}
	if n.ReferralCode == "" {
		n.ReferralCode = code
	}
	n.Status = status
	r.byID[id] = n
	return n, nil
}

func TestEnrollUnderActiveCode(t *testing.T) {
	repo := newMemRepo(Node{ID: "p1", UserID: "parent-user", ReferralCode: "ibparent", Status: types.ReferralStatusActive, Level: 2})
	svc := NewService(repo)

	node, err := svc.Enroll(context.Background(), "child", "REF_IBPARENT")
	require.NoError(t, err)
	assert.Equal(t, "p1", node.ParentID)
	assert.Equal(t, 3, node.Level)
	assert.Equal(t, types.ReferralStatusPending, node.Status)
	assert.Empty(t, node.ReferralCode)
	assert.NotEmpty(t, node.ID)
}

func TestEnrollWithoutCodeCreatesRoot(t *testing.T) {
	svc := NewService(newMemRepo())
	node, err := svc.Enroll(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.True(t, node.IsRoot())
	assert.Zero(t, node.Level)
}

func TestEnrollRejections(t *testing.T) {
	repo := newMemRepo(
		Node{ID: "p1", UserID: "pending-owner", ReferralCode: "ibpending", Status: types.ReferralStatusPending},
		Node{ID: "p2", UserID: "self", ReferralCode: "ibself", Status: types.ReferralStatusActive},
	)
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", "ibunknown")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = svc.Enroll(ctx, "u2", "ibpending")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = svc.Enroll(ctx, "self", "ibself")
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	_, err = svc.Enroll(ctx, "  ", "")
	assert.ErrorIs(t, err, ErrUserIDRequired)
}

func TestActivateAssignsCode(t *testing.T) {
	repo := newMemRepo(Node{ID: "n1", UserID: "4f1c-9a", Status: types.ReferralStatusPending})
	svc := NewService(repo)
	ctx := context.Background()

	node, err := svc.Activate(ctx, "4f1c-9a")
	require.NoError(t, err)
	assert.Equal(t, types.ReferralStatusActive, node.Status)
	assert.Equal(t, "ib4f1c9a", node.ReferralCode)

	again, err := svc.Activate(ctx, "4f1c-9a")
	require.NoError(t, err)
	assert.Equal(t, node.ReferralCode, again.ReferralCode)

	_, err = svc.Deactivate(ctx, "4f1c-9a")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, "4f1c-9a")
	assert.ErrorIs(t, err, ErrInactive)

	_, err = svc.Activate(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ibabc", normalizeCode(" REF_abc "))
	assert.Equal(t, "ibabc", normalizeCode("IBabc"))
	assert.Equal(t, "", normalizeCode("ref_"))
	assert.Equal(t, "ib12", codeFromUserID("1-2"))
}

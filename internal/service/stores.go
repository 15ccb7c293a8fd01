package service

import (
	"context"
	"errors"
	"time"

	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/repository"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
)

// OrderStore is satisfied by repository.OrderRepository
type OrderStore interface {
	PlaceOrder(ctx context.Context, order *models.Order, events ...*models.OutboxMessage) error
	GetByID(ctx context.Context, id int) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Order, error)
	List(ctx context.Context, limit, offset int) ([]*models.Order, error)
	Update(ctx context.Context, id int, fn repository.OrderMutation) (*models.Order, error)
	Delete(ctx context.Context, id int) error
}

// ProductStore is satisfied by repository.ProductRepository
type ProductStore interface {
	Create(ctx context.Context, p *models.Product) error
	GetByID(ctx context.Context, id int64) (*models.Product, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	List(ctx context.Context, categoryID int64, limit, offset int) ([]*models.Product, error)
	Update(ctx context.Context, p *models.Product) error
	SetStock(ctx context.Context, id int64, stock int) error
	Archive(ctx context.Context, id int64) error
	AddImage(ctx context.Context, img *models.ProductImage) error
	RemoveImage(ctx context.Context, productID, imageID int64) error
}

// CategoryStore is satisfied by repository.CategoryRepository
type CategoryStore interface {
	Create(ctx context.Context, c *models.Category) error
	GetByID(ctx context.Context, id int64) (*models.Category, error)
	List(ctx context.Context) ([]*models.Category, error)
	Rename(ctx context.Context, id int64, name string) (*models.Category, error)
	Archive(ctx context.Context, id int64) error
}

// UserStore is satisfied by repository.UserRepository
type UserStore interface {
	Create(ctx context.Context, u *models.User, events ...*models.OutboxMessage) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	ConfirmEmail(ctx context.Context, token string) (int64, error)
	SetRefreshToken(ctx context.Context, userID int64, hash string, expiresAt time.Time) error
	RotateRefreshToken(ctx context.Context, userID int64, oldHash, newHash string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, userID int64) error
	UpdateProfile(ctx context.Context, u *models.User) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	ChangeRole(ctx context.Context, userID int64, role models.Role) error
	Archive(ctx context.Context, userID int64) error
}

// translate maps storage errors onto the application error taxonomy.
// AppErrors raised inside mutations pass through untouched.
func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError(notFound)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflictError("resource already exists")
	default:
		return apperrors.NewInternalError("internal server error").WithContext("cause", err.Error())
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

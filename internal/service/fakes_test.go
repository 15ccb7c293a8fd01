package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-api/internal/auth"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/repository"
)

// memDB is an in-memory stand-in for the order and product tables. Every
// operation holds the lock for its whole duration, like a transaction would.
type memDB struct {
	mu         sync.Mutex
	products   map[int64]*models.Product
	categories map[int64]*models.Category
	orders     map[int]*models.Order
	outbox     []*models.OutboxMessage
	nextID     int64
}

func newMemDB() *memDB {
	return &memDB{
		products:   map[int64]*models.Product{},
		categories: map[int64]*models.Category{},
		orders:     map[int]*models.Order{},
		nextID:     100,
	}
}

func (db *memDB) addProduct(id int64, name, price string, stock int) *models.Product {
	db.mu.Lock()
	defer db.mu.Unlock()

	p := &models.Product{
		ID:         id,
		CategoryID: 1,
		Name:       name,
		Price:      decimal.RequireFromString(price),
		Stock:      stock,
	}
	db.products[id] = p
	return p
}

func (db *memDB) stock(id int64) int {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.products[id].Stock
}

func (db *memDB) events(eventType string) []*models.OutboxMessage {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []*models.OutboxMessage
	for _, m := range db.outbox {
		if m.EventType == eventType {
			out = append(out, m)
		}
	}
	return out
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

type memOrders struct{ db *memDB }

func (s memOrders) PlaceOrder(ctx context.Context, order *models.Order, events ...*models.OutboxMessage) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	items := append([]models.OrderItem(nil), order.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	reserved := map[int64]int{}
	rollback := func() {
		for id, q := range reserved {
			db.products[id].Stock += q
		}
	}

	for _, item := range items {
		p, ok := db.products[item.ProductID]

		if !ok || p.IsDeleted {
			rollback()
			return &repository.ProductMissingError{ProductID: item.ProductID}
		}

		if p.Stock < item.Quantity {
			rollback()
			return &repository.StockShortageError{ProductID: p.ID, ProductName: p.Name, Requested: item.Quantity}
		}

		p.Stock -= item.Quantity
		reserved[p.ID] += item.Quantity
	}

	if _, exists := db.orders[order.ID]; exists {
		rollback()
		return &repository.DuplicateError{Constraint: "orders_pkey"}
	}

	db.orders[order.ID] = cloneOrder(order)
	db.outbox = append(db.outbox, events...)
	return nil
}

func (s memOrders) GetByID(ctx context.Context, id int) (*models.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	o, ok := s.db.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s memOrders) ListByUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := []*models.Order{}
	for _, o := range s.db.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (s memOrders) List(ctx context.Context, limit, offset int) ([]*models.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := []*models.Order{}
	for _, o := range s.db.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if offset >= len(out) {
		return []*models.Order{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memOrders) Update(ctx context.Context, id int, fn repository.OrderMutation) (*models.Order, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	stored, ok := db.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	working := cloneOrder(stored)
	change, err := fn(working)

	if err == repository.ErrNoChange {
		return cloneOrder(stored), nil
	}
	if err != nil {
		return nil, err
	}

	db.orders[id] = working

	if change != nil {
		if change.Restock {
			for _, item := range working.Items {
				if p, ok := db.products[item.ProductID]; ok {
					p.Stock += item.Quantity
				}
			}
		}
		db.outbox = append(db.outbox, change.Events...)
	}

	return cloneOrder(working), nil
}

func (s memOrders) Delete(ctx context.Context, id int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.orders[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.db.orders, id)
	return nil
}

type memProducts struct{ db *memDB }

func (s memProducts) Create(ctx context.Context, p *models.Product) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if c, ok := s.db.categories[p.CategoryID]; !ok || c.IsDeleted {
		return repository.ErrNotFound
	}

	s.db.nextID++
	p.ID = s.db.nextID
	stored := *p
	s.db.products[p.ID] = &stored
	return nil
}

func (s memProducts) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[id]
	if !ok || p.IsDeleted {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s memProducts) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := map[int64]*models.Product{}
	for _, id := range ids {
		if p, ok := s.db.products[id]; ok && !p.IsDeleted {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}

func (s memProducts) List(ctx context.Context, categoryID int64, limit, offset int) ([]*models.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := []*models.Product{}
	for _, p := range s.db.products {
		if p.IsDeleted || (categoryID != 0 && p.CategoryID != categoryID) {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memProducts) Update(ctx context.Context, p *models.Product) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored, ok := s.db.products[p.ID]
	if !ok || stored.IsDeleted {
		return repository.ErrNotFound
	}
	stock := stored.Stock
	*stored = *p
	stored.Stock = stock
	return nil
}

func (s memProducts) SetStock(ctx context.Context, id int64, stock int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[id]
	if !ok || p.IsDeleted {
		return repository.ErrNotFound
	}
	p.Stock = stock
	return nil
}

func (s memProducts) Archive(ctx context.Context, id int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[id]
	if !ok || p.IsDeleted {
		return repository.ErrNotFound
	}
	p.IsDeleted = true
	return nil
}

func (s memProducts) AddImage(ctx context.Context, img *models.ProductImage) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[img.ProductID]
	if !ok || p.IsDeleted {
		return repository.ErrNotFound
	}
	s.db.nextID++
	img.ID = s.db.nextID
	p.Images = append(p.Images, *img)
	return nil
}

func (s memProducts) RemoveImage(ctx context.Context, productID, imageID int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[productID]
	if !ok {
		return repository.ErrNotFound
	}
	for i, img := range p.Images {
		if img.ID == imageID {
			p.Images = append(p.Images[:i], p.Images[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type memCategories struct{ db *memDB }

func (s memCategories) Create(ctx context.Context, c *models.Category) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.nextID++
	c.ID = s.db.nextID
	stored := *c
	s.db.categories[c.ID] = &stored
	return nil
}

func (s memCategories) GetByID(ctx context.Context, id int64) (*models.Category, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.categories[id]
	if !ok || c.IsDeleted {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s memCategories) List(ctx context.Context) ([]*models.Category, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := []*models.Category{}
	for _, c := range s.db.categories {
		if !c.IsDeleted {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memCategories) Rename(ctx context.Context, id int64, name string) (*models.Category, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.categories[id]
	if !ok || c.IsDeleted {
		return nil, repository.ErrNotFound
	}
	c.Name = name
	out := *c
	return &out, nil
}

func (s memCategories) Archive(ctx context.Context, id int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.categories[id]
	if !ok || c.IsDeleted {
		return repository.ErrNotFound
	}
	c.IsDeleted = true
	for _, p := range s.db.products {
		if p.CategoryID == id {
			p.IsDeleted = true
		}
	}
	return nil
}

// memUsers mirrors the user repository, including the refresh token compare-and-swap
type memUsers struct {
	mu     sync.Mutex
	users  map[int64]*models.User
	outbox []*models.OutboxMessage
	nextID int64
	now    func() time.Time
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[int64]*models.User{}, now: time.Now}
}

func (s *memUsers) add(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	u.ID = s.nextID
	s.users[u.ID] = u
	return u
}

func (s *memUsers) get(id int64) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *s.users[id]
	return &c
}

func (s *memUsers) Create(ctx context.Context, u *models.User, events ...*models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return &repository.DuplicateError{Constraint: "users_username_key"}
		}
	}

	s.nextID++
	u.ID = s.nextID
	stored := *u
	s.users[u.ID] = &stored
	s.outbox = append(s.outbox, events...)
	return nil
}

func (s *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if !u.IsDeleted && match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.ID == id })
}

func (s *memUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Username == username })
}

func (s *memUsers) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUsers) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.User{}
	for _, u := range s.users {
		if !u.IsDeleted {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memUsers) ConfirmEmail(ctx context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.EmailConfirmationToken != nil && *u.EmailConfirmationToken == token {
			u.EmailConfirmed = true
			u.EmailConfirmationToken = nil
			return u.ID, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (s *memUsers) update(id int64, fn func(*models.User) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || u.IsDeleted || !fn(u) {
		return repository.ErrNotFound
	}
	return nil
}

func (s *memUsers) SetRefreshToken(ctx context.Context, userID int64, hash string, expiresAt time.Time) error {
	return s.update(userID, func(u *models.User) bool {
		u.RefreshTokenHash, u.RefreshTokenExpiresAt = &hash, &expiresAt
		return true
	})
}

func (s *memUsers) RotateRefreshToken(ctx context.Context, userID int64, oldHash, newHash string, expiresAt time.Time) error {
	return s.update(userID, func(u *models.User) bool {
		if u.RefreshTokenHash == nil || *u.RefreshTokenHash != oldHash || !u.RefreshTokenExpiresAt.After(s.now()) {
			return false
		}
		u.RefreshTokenHash, u.RefreshTokenExpiresAt = &newHash, &expiresAt
		return true
	})
}

func (s *memUsers) ClearRefreshToken(ctx context.Context, userID int64) error {
	return s.update(userID, func(u *models.User) bool {
		u.RefreshTokenHash, u.RefreshTokenExpiresAt = nil, nil
		return true
	})
}

func (s *memUsers) UpdateProfile(ctx context.Context, in *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID != in.ID && u.Email == in.Email {
			return &repository.DuplicateError{Constraint: "users_email_key"}
		}
	}

	u, ok := s.users[in.ID]
	if !ok || u.IsDeleted {
		return repository.ErrNotFound
	}
	confirmed := u.EmailConfirmed && u.Email == in.Email
	*u = *in
	u.EmailConfirmed = confirmed
	in.EmailConfirmed = confirmed
	return nil
}

func (s *memUsers) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	return s.update(userID, func(u *models.User) bool {
		u.PasswordHash = passwordHash
		u.RefreshTokenHash, u.RefreshTokenExpiresAt = nil, nil
		return true
	})
}

func (s *memUsers) ChangeRole(ctx context.Context, userID int64, role models.Role) error {
	return s.update(userID, func(u *models.User) bool {
		u.Role = role
		return true
	})
}

func (s *memUsers) Archive(ctx context.Context, userID int64) error {
	return s.update(userID, func(u *models.User) bool {
		u.IsDeleted = true
		u.RefreshTokenHash, u.RefreshTokenExpiresAt = nil, nil
		return true
	})
}

// mustHash uses the real bcrypt hash so CheckPassword paths are exercised
func mustHash(password string) string {
	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	return hash
}

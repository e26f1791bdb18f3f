package batch

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrOutputNotFound is returned for operations on an unknown output id.
var ErrOutputNotFound = errors.New("output not found")

var (
	entropyMu   sync.Mutex
	entropyOnce sync.Once
	entropy     *ulid.MonotonicEntropy
)

// NewID returns an img_* ULID. IDs sort in creation order.
func NewID() string {
	entropyOnce.Do(func() {
		source := rand.NewSource(time.Now().UnixNano())
		entropy = ulid.Monotonic(rand.New(source), 0)
	})

	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return "img_" + strings.ToLower(id.String())
}

// Output is one generated photo.
type Output struct {
	ID          string    `json:"id"`
	Image       string    `json:"url"`
	Description string    `json:"prompt"`
	Favorite    bool      `json:"isFavorite"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewOutput creates an output with a fresh id.
func NewOutput(image, description string) Output {
	return Output{
		ID:          NewID(),
		Image:       image,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

// Collection holds outputs in append order.
type Collection struct {
	mu    sync.RWMutex
	items []Output
}

// NewCollection creates a collection seeded with items.
func NewCollection(items ...Output) *Collection {
	return &Collection{items: append([]Output(nil), items...)}
}

// Append adds o to the end of the collection.
func (c *Collection) Append(o Output) {
	c.mu.Lock()
	c.items = append(c.items, o)
	c.mu.Unlock()
}

// List returns a copy of all outputs.
func (c *Collection) List() []Output {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Output(nil), c.items...)
}

// Len returns the number of outputs.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the output with id.
func (c *Collection) Get(id string) (Output, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	return Output{}, false
}

// Remove deletes the output with id.
func (c *Collection) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return ErrOutputNotFound
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return nil
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (c *Collection) ToggleFavorite(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return false, ErrOutputNotFound
	}
	c.items[i].Favorite = !c.items[i].Favorite
	return c.items[i].Favorite, nil
}

// Replace swaps the image and description of an output in place.
func (c *Collection) Replace(id, image, description string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return ErrOutputNotFound
	}
	c.items[i].Image = image
	c.items[i].Description = description
	return nil
}

// Clear removes every output.
func (c *Collection) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

// Favorites returns the outputs marked favorite.
func (c *Collection) Favorites() []Output {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Output
	for _, o := range c.items {
		if o.Favorite {
			out = append(out, o)
		}
	}
	return out
}

func (c *Collection) indexLocked(id string) int {
	for i, o := range c.items {
		if o.ID == id {
			return i
		}
	}
	return -1
}

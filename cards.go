package rig

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

// CardAPI - операции Middleware над сохраненными картами.
type CardAPI interface {
	ListCards(ctx context.Context, path string) ([]models.SensorCard, error)
	RenameCard(ctx context.Context, toID, subdir, path string) error
	DeleteCard(ctx context.Context, subdir, path string) error
}

// CardCatalog хранит последний список карт для каталога носителя.
type CardCatalog struct {
	api    CardAPI
	logger logrus.FieldLogger

	mu    sync.Mutex
	path  string
	cards []models.SensorCard
}

func NewCardCatalog(api CardAPI, logger logrus.FieldLogger) *CardCatalog {
	return &CardCatalog{
		api:    api,
		logger: logging.WithPrefix(logger, "CARDS"),
	}
}

// Refresh загружает список карт каталога path.
func (c *CardCatalog) Refresh(ctx context.Context, path string) ([]models.SensorCard, error) {
	cards, err := c.api.ListCards(ctx, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.path = path
	c.cards = cards
	c.mu.Unlock()
	return append([]models.SensorCard(nil), cards...), nil
}

func (c *CardCatalog) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

func (c *CardCatalog) Cards() []models.SensorCard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SensorCard(nil), c.cards...)
}

func (c *CardCatalog) indexOf(subdir string) int {
	for i := range c.cards {
		if c.cards[i].SubdirPath == subdir {
			return i
		}
	}
	return -1
}

// Rename сразу показывает новый идентификатор и откатывает его, если Middleware отказал.
func (c *CardCatalog) Rename(ctx context.Context, subdir, toID string) error {
	c.mu.Lock()
	i := c.indexOf(subdir)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("card %s: %w", subdir, apperrors.ErrNotFound)
	}
	path := c.path
	previous := c.cards[i].CardID
	c.cards[i].CardID = models.CardID(toID)
	c.mu.Unlock()

	if err := c.api.RenameCard(ctx, toID, subdir, path); err != nil {
		c.mu.Lock()
		if j := c.indexOf(subdir); j >= 0 && c.cards[j].CardID == models.CardID(toID) {
			c.cards[j].CardID = previous
		}
		c.mu.Unlock()
		c.logger.WithError(err).WithField("subdir", subdir).Warn("Rename rejected, reverted")
		return err
	}

	c.logger.WithFields(logrus.Fields{"subdir": subdir, "from": previous, "to": toID}).Info("Card renamed")
	return nil
}

// Delete удаляет карту на сервере и затем из локального списка.
func (c *CardCatalog) Delete(ctx context.Context, subdir string) error {
	c.mu.Lock()
	if c.indexOf(subdir) < 0 {
		c.mu.Unlock()
		return fmt.Errorf("card %s: %w", subdir, apperrors.ErrNotFound)
	}
	path := c.path
	c.mu.Unlock()

	if err := c.api.DeleteCard(ctx, subdir, path); err != nil {
		return err
	}

	c.mu.Lock()
	if j := c.indexOf(subdir); j >= 0 {
		c.cards = append(c.cards[:j], c.cards[j+1:]...)
	}
	c.mu.Unlock()
	c.logger.WithField("subdir", subdir).Info("Card deleted")
	return nil
}

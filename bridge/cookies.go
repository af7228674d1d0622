package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quailyquaily/screenbridge/db/models"
)

// CookieStore persists cookies handed off by the remote UI surface so a
// browser worker can reuse the operator's sessions. One JSON blob per site,
// newest sync wins.
type CookieStore struct {
	gdb *gorm.DB
}

func NewCookieStore(gdb *gorm.DB) (*CookieStore, error) {
	if gdb == nil {
		return nil, fmt.Errorf("nil gorm db")
	}
	return &CookieStore{gdb: gdb}, nil
}

// Put replaces the stored cookies for site and returns how many were saved.
func (s *CookieStore) Put(ctx context.Context, site string, cookies json.RawMessage) (int, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return 0, fmt.Errorf("missing site")
	}
	var list []json.RawMessage
	if err := json.Unmarshal(cookies, &list); err != nil {
		return 0, fmt.Errorf("cookies must be a JSON array: %w", err)
	}

	row := models.CookieJar{
		Site:       site,
		CookieData: string(cookies),
		UpdatedAt:  time.Now().Unix(),
	}
	err := s.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site"}},
			DoUpdates: clause.AssignmentColumns([]string{"cookie_data", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Get returns the stored cookie array for site, an empty array when unknown.
func (s *CookieStore) Get(ctx context.Context, site string) (json.RawMessage, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, fmt.Errorf("missing site")
	}
	var row models.CookieJar
	err := s.gdb.WithContext(ctx).Where("site = ?", site).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return json.RawMessage("[]"), nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(row.CookieData), nil
}

// Sites lists every site with stored cookies.
func (s *CookieStore) Sites(ctx context.Context) ([]string, error) {
	var sites []string
	err := s.gdb.WithContext(ctx).
		Model(&models.CookieJar{}).
		Order("site ASC").
		Pluck("site", &sites).Error
	if err != nil {
		return nil, err
	}
	return sites, nil
}

package models

// CookieJar holds one site's synced cookies as a JSON blob, handed off by
// the remote UI surface so a browser-side worker can reuse the session.
type CookieJar struct {
	Site       string `gorm:"column:site;type:text;primaryKey"`
	CookieData string `gorm:"column:cookie_data;type:text;not null"`
	UpdatedAt  int64  `gorm:"column:updated_at;not null"`
}

func (CookieJar) TableName() string { return "cookie_jars" }

package domain

import "time"

// Message — единица переписки между двумя пользователями.
// body и fileUrl могут сосуществовать: файловое сообщение несёт
// плейсхолдер в body, полезная нагрузка — ровно одно из двух.
type Message struct {
	ID        string    `db:"id" json:"id"`
	FromUser  string    `db:"from_user" json:"fromUser"`
	ToUser    string    `db:"to_user" json:"toUser"`
	Body      string    `db:"body" json:"body"`
	FileURL   *string   `db:"file_url" json:"fileUrl,omitempty"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// IsFile — файловое сообщение (body тогда только плейсхолдер).
func (m *Message) IsFile() bool {
	return m.FileURL != nil && *m.FileURL != ""
}

package store

import "time"

type User struct {
	ID           string
	Login        string
	Mail         string
	Firstname    string
	Lastname     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserPatch carries the fields of a partial profile update; nil means unchanged.
type UserPatch struct {
	Login        *string
	Mail         *string
	Firstname    *string
	Lastname     *string
	PasswordHash *string
}

type Sheet struct {
	ID        int64
	Title     string
	Detail    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Grant links a user to a sheet with an access right (reader, writer, owner).
type Grant struct {
	UserID      string
	SheetID     int64
	AccessRight string
	GrantedAt   time.Time
}

type AccessibleSheet struct {
	Sheet
	AccessRight string
}

type SheetMember struct {
	UserID      string
	Login       string
	Firstname   string
	Lastname    string
	AccessRight string
}

// SheetScope narrows ListSheetsForUser.
type SheetScope string

const (
	ScopeAccessible SheetScope = "accessible"
	ScopeOwned      SheetScope = "owned"
	ScopeShared     SheetScope = "shared"
)

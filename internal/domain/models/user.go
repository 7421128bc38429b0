package models

// Role — роль пользователя, определяется один раз при аутентификации
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User представляет пользователя маркетплейса
type User struct {
	ID       int64
	Email    string
	PassHash []byte
	Role     Role
}

// Caller — аутентифицированный вызывающий: id пользователя и его роль,
// извлекаются из JWT и передаются в сервисы явно
type Caller struct {
	UserID int64
	Role   Role
}

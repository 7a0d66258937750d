package domain

// Role — роль пользователя, выданная сервисом аутентификации.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Claims — результат проверки bearer-токена.
type Claims struct {
	UserID string
	Role   Role
	// Token хранит исходный bearer-токен для проброса в соседние сервисы.
	Token string
}

// IsAdmin сообщает, обладает ли запрашивающий правами администратора.
func (c Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanAccess — владелец или администратор.
func (c Claims) CanAccess(ownerID string) bool {
	return c.IsAdmin() || (c.UserID != "" && c.UserID == ownerID)
}

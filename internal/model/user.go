package model

import "time"

// Role enumerates user roles. The role is always echoed from the server;
// clients never infer it.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// DashboardPath returns the landing route for a role, used as the
// post-login redirect hint and the role-mismatch redirect target.
func (r Role) DashboardPath() string {
	if r == RoleAdmin || r == RoleTeacher {
		return "/admin/dashboard"
	}
	return "/student/dashboard"
}

// User represents an account of any role.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// LoginResponse is returned after successful login.
type LoginResponse struct {
	Token      string `json:"token"`
	User       User   `json:"user"`
	RedirectTo string `json:"redirect_to"`
}

// ChangePasswordRequest is the payload for changing the caller's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

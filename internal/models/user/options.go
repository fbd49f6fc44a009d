package user

func WithUsername(username string) UserOption {
	return func(u *User) { u.Username = username }
}

func WithEmail(email string) UserOption {
	return func(u *User) { u.Email = email }
}

func WithPassword(password string) UserOption {
	return func(u *User) { u.Password = password }
}

func WithIsActive(active bool) UserOption {
	return func(u *User) { u.IsActive = active }
}

func WithRole(role Role) UserOption {
	return func(u *User) { u.Role = role }
}

func WithName(name string) UserOption {
	return func(u *User) { u.Name = name }
}

func WithPhone(phone string) UserOption {
	return func(u *User) { u.Phone = phone }
}

// WithUpdate applies the non-nil fields of an update request.
func WithUpdate(req UpdateUserRequest) UserOption {
	return func(u *User) {
		if req.Username != nil {
			u.Username = *req.Username
		}
		if req.Email != nil {
			u.Email = *req.Email
		}
		if req.Password != nil {
			u.Password = *req.Password
		}
		if req.Name != nil {
			u.Name = *req.Name
		}
		if req.Phone != nil {
			u.Phone = *req.Phone
		}
	}
}

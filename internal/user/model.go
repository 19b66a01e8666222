package user

import "errors"

var ErrNotFound = errors.New("user not found")

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	ProfileImg string `json:"profileimg"`
	Online     bool   `json:"online"`
}

// Profile is the public subset of a user that is safe to fan out to rooms.
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	ProfileImg string `json:"profileimg"`
}

func (u *User) Profile() *Profile {
	return &Profile{
		ID:         u.ID,
		Name:       u.Name,
		Username:   u.Username,
		ProfileImg: u.ProfileImg,
	}
}

// Package record defines the user and car records stored by garage, their
// field validation and the name search shared by both collections.
package record

// User is a user record.
type User struct {
	ID       int64  `json:"id" jsonschema:"description=Identifier assigned by the store"`
	Nickname string `json:"nickname" jsonschema:"description=Display name; searched by the users list"`
	Email    string `json:"email" jsonschema:"description=Contact email address"`
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	c := *u
	return &c
}

// GetID returns the user's ID.
func (u *User) GetID() int64 {
	return u.ID
}

// SetID sets the user's ID. Only the store calls it.
func (u *User) SetID(id int64) {
	u.ID = id
}

// SearchName returns the field matched by Search.
func (u *User) SearchName() string {
	return u.Nickname
}

// Validate checks that nickname and email are not blank.
func (u *User) Validate() FieldErrors {
	return requireFields(
		field{"nickname", "Nickname", u.Nickname},
		field{"email", "Email", u.Email},
	)
}

// Car is a car record.
type Car struct {
	ID    int64  `json:"id" jsonschema:"description=Identifier assigned by the store"`
	Make  string `json:"make" jsonschema:"description=Manufacturer; searched by the cars list"`
	Model string `json:"model" jsonschema:"description=Model name"`
}

// Clone returns a copy of the car.
func (c *Car) Clone() *Car {
	n := *c
	return &n
}

// GetID returns the car's ID.
func (c *Car) GetID() int64 {
	return c.ID
}

// SetID sets the car's ID. Only the store calls it.
func (c *Car) SetID(id int64) {
	c.ID = id
}

// SearchName returns the field matched by Search.
func (c *Car) SearchName() string {
	return c.Make
}

// Validate checks that make and model are not blank.
func (c *Car) Validate() FieldErrors {
	return requireFields(
		field{"make", "Make", c.Make},
		field{"model", "Model", c.Model},
	)
}

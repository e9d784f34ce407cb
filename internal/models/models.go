package models

// All returns every model managed by the chat service, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Chat{},
		&ChatMember{},
		&Message{},
		&Notification{},
		&FriendRequest{},
		&Friendship{},
		&Block{},
	}
}

package model

import "time"

// NotificationCategory 通知开关类别
type NotificationCategory string

const (
	CategoryMessages NotificationCategory = "messages"
	CategoryLikes    NotificationCategory = "likes"
	CategoryComments NotificationCategory = "comments"
	CategoryFollows  NotificationCategory = "follows"
	CategoryPosts    NotificationCategory = "posts"
)

// 通知类型
const (
	NotificationTypeMessage = "message"
	NotificationTypeLike    = "like"
	NotificationTypeComment = "comment"
	NotificationTypeFollow  = "follow"
	NotificationTypePost    = "post"
)

var typeCategories = map[string]NotificationCategory{
	NotificationTypeMessage: CategoryMessages,
	NotificationTypeLike:    CategoryLikes,
	NotificationTypeComment: CategoryComments,
	NotificationTypeFollow:  CategoryFollows,
	NotificationTypePost:    CategoryPosts,
}

// CategoryOf 返回通知类型对应的开关类别
func CategoryOf(notificationType string) (NotificationCategory, bool) {
	c, ok := typeCategories[notificationType]
	return c, ok
}

// NotificationSettings 用户通知设置
type NotificationSettings struct {
	UserID           string    `json:"userId"`
	Messages         bool      `json:"messages"`
	Likes            bool      `json:"likes"`
	Comments         bool      `json:"comments"`
	Follows          bool      `json:"follows"`
	Posts            bool      `json:"posts"`
	PrivateAccount   bool      `json:"privateAccount"`
	ShowOnlineStatus bool      `json:"showOnlineStatus"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DefaultNotificationSettings 默认设置：全部开启
func DefaultNotificationSettings(userID string) NotificationSettings {
	return NotificationSettings{
		UserID:           userID,
		Messages:         true,
		Likes:            true,
		Comments:         true,
		Follows:          true,
		Posts:            true,
		PrivateAccount:   true,
		ShowOnlineStatus: true,
	}
}

// Allows 判断该通知类型是否允许投递
// 没有对应类别的类型总是允许
func (s *NotificationSettings) Allows(notificationType string) bool {
	category, ok := CategoryOf(notificationType)
	if !ok {
		return true
	}
	switch category {
	case CategoryMessages:
		return s.Messages
	case CategoryLikes:
		return s.Likes
	case CategoryComments:
		return s.Comments
	case CategoryFollows:
		return s.Follows
	case CategoryPosts:
		return s.Posts
	}
	return true
}

// Notification 通知条目
type Notification struct {
	ID      string    `json:"_id"`
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Read    bool      `json:"read"`
	Avatar  string    `json:"avatar"`
	Icon    string    `json:"icon"`
	Link    string    `json:"link,omitempty"`
}

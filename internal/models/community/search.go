package community

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

const maxSearchPeople = 5

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchFilter is a free-text query over posts and people.
type SearchFilter struct {
	Query string
	Page  int
	Limit int
}

// PersonMatch is a user found by search. Email is matched but never returned.
type PersonMatch struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Name     string    `json:"name"`
	Role     user.Role `json:"role"`
}

type SearchResult struct {
	Query      string        `json:"query"`
	Posts      []Post        `json:"posts"`
	TotalPosts int64         `json:"total_posts"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	People     []PersonMatch `json:"people"`
}

// Search matches published posts by content or author name, newest first, and up to five
// people by name, username or email. Anonymous callers get public posts and no people.
func (s *Service) Search(ctx context.Context, actor user.Actor, f SearchFilter) (*SearchResult, error) {
	query := strings.TrimSpace(f.Query)
	switch {
	case query == "":
		return nil, utils.ValidationFailed([]utils.CError{{Field: "q", Msg: "q is required"}})
	case len(query) > 100:
		return nil, utils.ValidationFailed([]utils.CError{{Field: "q", Msg: "q must be at most 100 characters"}})
	}
	page, limit := pageBounds(f.Page, f.Limit)
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"

	authors := s.db.WithContext(ctx).Model(&user.User{}).Select("id").
		Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(username) LIKE ? ESCAPE '\')`, pattern, pattern)
	q := s.db.WithContext(ctx).Model(&Post{}).
		Where("status = ?", PostPublished).
		Where(`(LOWER(content) LIKE ? ESCAPE '\' OR user_id IN (?))`, pattern, authors)
	if actor.ID == uuid.Nil {
		q = q.Where("is_public = ?", true)
	}
	q = q.Session(&gorm.Session{})

	res := &SearchResult{Query: query, Page: page, Limit: limit, Posts: []Post{}, People: []PersonMatch{}}
	if err := q.Count(&res.TotalPosts).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count search results")
	}
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&res.Posts).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to search posts")
	}

	if actor.ID != uuid.Nil {
		err := s.db.WithContext(ctx).Model(&user.User{}).
			Select("id, username, name, role").
			Where("is_active = ?", true).
			Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`, pattern, pattern, pattern).
			Order("username ASC").Limit(maxSearchPeople).
			Scan(&res.People).Error
		if err != nil {
			return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to search people")
		}
	}

	s.log.Info(ctx).WithMeta(utils.Map{"query": query, "posts": strconv.FormatInt(res.TotalPosts, 10)}).Logs("Community search")
	return res, nil
}

package services

// 用户服务：注册、凭据校验、资料读取与更新，以及关注关系的唯一变更入口。

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"clonetwitter/internal/metrics"
	"clonetwitter/internal/storage"
)

const (
	MinPasswordLength = 8
	MinUsernameLength = 3
)

// BasicUser 为精简的用户视图（仅 id 与用户名）。
type BasicUser struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// Profile 为完整的用户资料视图，计数均在读取时计算。
type Profile struct {
	ID            uint64      `json:"id"`
	FirstName     string      `json:"first_name"`
	LastName      string      `json:"last_name"`
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	IsActive      bool        `json:"is_active"`
	NoOfPosts     int64       `json:"no_of_posts"`
	NoOfFollowers int         `json:"no_of_followers"`
	NoOfFollowing int         `json:"no_of_following"`
	Followers     []BasicUser `json:"followers"`
	Following     []BasicUser `json:"following"`
}

// SignupInput 为注册请求的全部字段。
type SignupInput struct {
	FirstName            string
	LastName             string
	Username             string
	Email                string
	Password             string
	PasswordConfirmation string
}

// ProfileUpdate 为资料的部分更新；nil 字段表示不修改。
type ProfileUpdate struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
}

// FollowAction 取值 follow 或 unfollow。
type FollowAction string

const (
	ActionFollow   FollowAction = "follow"
	ActionUnfollow FollowAction = "unfollow"
)

// FollowResult 为关注/取关成功后的确认信息与调用者最新资料。
type FollowResult struct {
	Message string
	Profile *Profile
}

// UserService 提供用户 CRUD、口令校验与关注关系维护。
type UserService struct {
	db     *gorm.DB
	events EventPublisher
	cost   int
}

func NewUserService(db *gorm.DB, events EventPublisher) *UserService {
	if events == nil {
		events = NopPublisher{}
	}
	return &UserService{db: db, events: events, cost: bcrypt.DefaultCost}
}

// SetHashCost 调整 bcrypt 成本（测试中使用较低成本以加速）。
func (s *UserService) SetHashCost(cost int) {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.cost = cost
	}
}

func (s *UserService) FindByID(ctx context.Context, id uint64) (*storage.User, error) {
	var u storage.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("No User exists with this ID \"%d\"", id)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *UserService) FindByUsername(ctx context.Context, username string) (*storage.User, error) {
	var u storage.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CheckPassword 校验用户口令（bcrypt）。
func (s *UserService) CheckPassword(u *storage.User, password string) bool {
	if u.Password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
}

// Signup 校验并创建用户；按顺序报告第一条违反的规则。
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*storage.User, error) {
	required := []struct{ name, val string }{
		{"first_name", in.FirstName},
		{"last_name", in.LastName},
		{"username", in.Username},
		{"email", in.Email},
		{"password_1", in.Password},
		{"password_2", in.PasswordConfirmation},
	}
	for _, f := range required {
		if strings.TrimSpace(f.val) == "" {
			return nil, ValidationError("%s: This field is required.", f.name)
		}
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < MinPasswordLength || len(in.PasswordConfirmation) < MinPasswordLength {
		return nil, ValidationError("Ensure the password has at least %d characters.", MinPasswordLength)
	}
	username := strings.TrimSpace(in.Username)
	if taken, err := s.usernameTaken(ctx, username, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, ValidationError("A user with this username already exists")
	}
	if taken, err := s.emailTaken(ctx, email, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, ValidationError("A user with this email already exists")
	}
	if in.Password != in.PasswordConfirmation {
		return nil, ValidationError("The two passwords are not equal")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &storage.User{
		Username:      username,
		UsernameLower: foldUsername(username),
		Email:         email,
		Password:      string(hash),
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		IsActive:      true,
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		// 并发注册时预检查可能都通过，由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ValidationError("A user with this username or email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate 校验用户名与口令，仅接受激活用户。
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*storage.User, error) {
	u, err := s.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, AuthenticationError("Wrong credentials. Please kindly check your login credentials")
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !u.IsActive || !s.CheckPassword(u, password) {
		return nil, AuthenticationError("Wrong credentials. Please kindly check your login credentials")
	}
	return u, nil
}

// Profile 返回用户的完整资料。
func (s *UserService) Profile(ctx context.Context, id uint64) (*Profile, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.profileOf(ctx, u)
}

func (s *UserService) profileOf(ctx context.Context, u *storage.User) (*Profile, error) {
	db := s.db.WithContext(ctx)
	var posts int64
	if err := db.Model(&storage.Post{}).Where("poster_id = ?", u.ID).Count(&posts).Error; err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	followers, err := s.Followers(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	following, err := s.Following(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		ID:            u.ID,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Username:      u.Username,
		Email:         u.Email,
		IsActive:      u.IsActive,
		NoOfPosts:     posts,
		NoOfFollowers: len(followers),
		NoOfFollowing: len(following),
		Followers:     followers,
		Following:     following,
	}, nil
}

// Followers 返回关注了 userID 的用户。
func (s *UserService) Followers(ctx context.Context, userID uint64) ([]BasicUser, error) {
	out := []BasicUser{}
	err := s.db.WithContext(ctx).Table("users").
		Select("users.id, users.username").
		Joins("JOIN follows ON follows.follower_id = users.id").
		Where("follows.followee_id = ?", userID).
		Order("users.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return out, nil
}

// Following 返回 userID 关注的用户。
func (s *UserService) Following(ctx context.Context, userID uint64) ([]BasicUser, error) {
	out := []BasicUser{}
	err := s.db.WithContext(ctx).Table("users").
		Select("users.id, users.username").
		Joins("JOIN follows ON follows.followee_id = users.id").
		Where("follows.follower_id = ?", userID).
		Order("users.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	return out, nil
}

// UpdateProfile 仅应用提供的字段；用户名与邮箱的唯一性只与其他用户比较。
func (s *UserService) UpdateProfile(ctx context.Context, id uint64, upd ProfileUpdate) (*Profile, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	changes := map[string]interface{}{}
	if upd.Username != nil {
		username := strings.TrimSpace(*upd.Username)
		if len(username) < MinUsernameLength {
			return nil, ValidationError("Ensure the username has at least %d characters.", MinUsernameLength)
		}
		if taken, err := s.usernameTaken(ctx, username, id); err != nil {
			return nil, err
		} else if taken {
			return nil, ValidationError("A user with this username already exists")
		}
		changes["username"] = username
		changes["username_lower"] = foldUsername(username)
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		if taken, err := s.emailTaken(ctx, email, id); err != nil {
			return nil, err
		} else if taken {
			return nil, ValidationError("A user with this email already exists")
		}
		changes["email"] = email
	}
	if upd.FirstName != nil {
		changes["first_name"] = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		changes["last_name"] = strings.TrimSpace(*upd.LastName)
	}
	if len(changes) > 0 {
		if err := s.db.WithContext(ctx).Model(u).Updates(changes).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ValidationError("A user with this username or email already exists")
			}
			return nil, fmt.Errorf("update user: %w", err)
		}
	}
	return s.Profile(ctx, id)
}

// SetFollowState 是关注图的唯一变更入口：校验后新增或删除一条有向边。
func (s *UserService) SetFollowState(ctx context.Context, callerID, targetID uint64, action FollowAction) (*FollowResult, error) {
	if action != ActionFollow && action != ActionUnfollow {
		return nil, ValidationError("Wrong action")
	}
	target, err := s.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.ID == callerID {
		return nil, SelfReferenceError("You cannot follow or unfollow yourself")
	}
	following, err := s.IsFollowing(ctx, callerID, target.ID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	switch action {
	case ActionFollow:
		if following {
			return nil, ConflictError("You are already following this user")
		}
		if err := db.Create(&storage.Follow{FollowerID: callerID, FolloweeID: target.ID}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ConflictError("You are already following this user")
			}
			return nil, fmt.Errorf("create follow: %w", err)
		}
		publish(ctx, s.events, SubjectUserFollowed, FollowEvent{FollowerID: callerID, FolloweeID: target.ID, At: time.Now().UTC()})
		metrics.FollowActions.WithLabelValues(string(action)).Inc()
	case ActionUnfollow:
		if !following {
			return nil, ConflictError("You are not following this user")
		}
		res := db.Where("follower_id = ? AND followee_id = ?", callerID, target.ID).Delete(&storage.Follow{})
		if res.Error != nil {
			return nil, fmt.Errorf("delete follow: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ConflictError("You are not following this user")
		}
		publish(ctx, s.events, SubjectUserUnfollowed, FollowEvent{FollowerID: callerID, FolloweeID: target.ID, At: time.Now().UTC()})
		metrics.FollowActions.WithLabelValues(string(action)).Inc()
	}
	profile, err := s.Profile(ctx, callerID)
	if err != nil {
		return nil, err
	}
	return &FollowResult{
		Message: fmt.Sprintf("You just %sed %s successfully", action, target.Username),
		Profile: profile,
	}, nil
}

// IsFollowing 判断 followerID 是否关注了 followeeID。
func (s *UserService) IsFollowing(ctx context.Context, followerID, followeeID uint64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&storage.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return n > 0, nil
}

// foldUsername 为用户名唯一性使用的规范形式。
func foldUsername(username string) string { return strings.ToLower(username) }

func (s *UserService) usernameTaken(ctx context.Context, username string, exceptID uint64) (bool, error) {
	return s.exists(ctx, "username_lower = ?", foldUsername(username), exceptID)
}

// email 入库前已经过 normalizeEmail，直接按等值比较。
func (s *UserService) emailTaken(ctx context.Context, email string, exceptID uint64) (bool, error) {
	return s.exists(ctx, "email = ?", email, exceptID)
}

func (s *UserService) exists(ctx context.Context, cond, val string, exceptID uint64) (bool, error) {
	q := s.db.WithContext(ctx).Model(&storage.User{}).Where(cond, val)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check unique: %w", err)
	}
	return n > 0, nil
}

// normalizeEmail 校验邮箱格式并转为小写。
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ValidationError("Enter a valid email address.")
	}
	return strings.ToLower(email), nil
}

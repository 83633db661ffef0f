package service

import (
	"coder_edu_progress/internal/util"
	"sync"
)

// Identity 当前登录用户，作为显式依赖传入追踪器和同步器
type Identity struct {
	UserID uint
	Token  string
}

type IdentityProvider interface {
	Current() (Identity, bool)
}

// Session 进度代理持有的登录态，token 由前端下发
type Session struct {
	mu      sync.RWMutex
	current *Identity
}

func NewSession() *Session {
	return &Session{}
}

// SignIn 从 token 中读取用户 ID，签名由后端校验
func (s *Session) SignIn(token string) (Identity, error) {
	claims, err := util.ParseUnverifiedJWT(token)
	if err != nil {
		return Identity{}, util.ErrUnauthenticated
	}

	ident := Identity{UserID: claims.UserID, Token: token}
	s.mu.Lock()
	s.current = &ident
	s.mu.Unlock()
	return ident, nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Session) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Identity{}, false
	}
	return *s.current, true
}

// Token 供 HTTP 客户端附加 Authorization 头
func (s *Session) Token() string {
	ident, ok := s.Current()
	if !ok {
		return ""
	}
	return ident.Token
}

// StaticIdentity 固定身份，UserID 为 0 表示未登录
type StaticIdentity Identity

func (i StaticIdentity) Current() (Identity, bool) {
	return Identity(i), i.UserID != 0
}

package httpx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"microblog/internal/app"
	"microblog/internal/auth"
	"microblog/internal/db"
	"microblog/internal/forms"
	"microblog/internal/graph"
	"microblog/internal/metrics"
	"microblog/internal/models"
	"microblog/internal/posts"
	"microblog/internal/util"
)

type Server struct {
	DB       *sql.DB
	Cfg      app.Config
	Log      *zap.Logger
	Index    posts.Index
	Notifier auth.Notifier
	Router   *mux.Router

	handler http.Handler
}

func NewServer(d *sql.DB, cfg app.Config, log *zap.Logger) *Server {
	s := &Server{
		DB:       d,
		Cfg:      cfg,
		Log:      log,
		Index:    posts.SQLIndex{DB: d},
		Notifier: auth.LogNotifier{Log: log},
		Router:   mux.NewRouter(),
	}
	r := s.Router
	r.Use(metrics.InstrumentHandler)
	r.Use(s.withSession)

	// routes
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/reset_password_request", s.handleResetRequest).Methods(http.MethodPost)
	r.HandleFunc("/reset_password/{token}", s.handleResetPassword).Methods(http.MethodPost)

	r.Handle("/", s.authed(s.handleIndex)).Methods(http.MethodGet)
	r.Handle("/index", s.authed(s.handleIndex)).Methods(http.MethodGet)
	r.Handle("/me", s.authed(s.handleMe)).Methods(http.MethodGet)
	r.Handle("/explore", s.authed(s.handleExplore)).Methods(http.MethodGet)
	r.Handle("/posts", s.authed(s.handlePostCreate)).Methods(http.MethodPost)
	r.Handle("/posts/{id:[0-9]+}", s.authed(s.handlePostView)).Methods(http.MethodGet)
	r.Handle("/posts/{id:[0-9]+}/comments", s.authed(s.handleCommentCreate)).Methods(http.MethodPost)
	r.Handle("/user/{username}", s.authed(s.handleUser)).Methods(http.MethodGet)
	r.Handle("/user/{username}/followers", s.authed(s.handleFollowers)).Methods(http.MethodGet)
	r.Handle("/user/{username}/followed", s.authed(s.handleFollowed)).Methods(http.MethodGet)
	r.Handle("/edit_profile", s.authed(s.handleEditProfile)).Methods(http.MethodPost)
	r.Handle("/follow/{username}", s.authed(s.handleFollow)).Methods(http.MethodPost)
	r.Handle("/unfollow/{username}", s.authed(s.handleUnfollow)).Methods(http.MethodPost)
	r.Handle("/search", s.authed(s.handleSearch)).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.handler = WithAccessLog(log, WithTimeout(cfg.RequestTimeout, r))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

// pageJSON is a page of posts plus links to its neighbours.
type pageJSON struct {
	models.Page[models.Post]
	NextURL string `json:"next_url,omitempty"`
	PrevURL string `json:"prev_url,omitempty"`
}

type profileJSON struct {
	User        models.User `json:"user"`
	Followers   int         `json:"followers"`
	Followed    int         `json:"followed"`
	IsFollowing bool        `json:"is_following"`
	Posts       pageJSON    `json:"posts"`
}

type postJSON struct {
	Post     models.Post      `json:"post"`
	Comments []models.Comment `json:"comments"`
}

func pageParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func withLinks(path string, extra url.Values, p models.Page[models.Post]) pageJSON {
	link := func(n int) string {
		v := url.Values{}
		for k, vs := range extra {
			v[k] = vs
		}
		v.Set("page", strconv.Itoa(n))
		return path + "?" + v.Encode()
	}
	out := pageJSON{Page: p}
	if p.HasNext() {
		out.NextURL = link(p.NextNum())
	}
	if p.HasPrev() {
		out.PrevURL = link(p.PrevNum())
	}
	return out
}

// writeError maps store and validation errors onto HTTP responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fe forms.FieldErrors
	switch {
	case errors.As(err, &fe):
		util.Render(w, http.StatusUnprocessableEntity, map[string]any{"errors": fe})
	case auth.TakenField(err) != "":
		util.Render(w, http.StatusConflict, map[string]any{"errors": forms.FieldErrors{auth.TakenField(err): err.Error()}})
	case errors.Is(err, auth.ErrUserNotFound):
		util.Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, posts.ErrPostNotFound):
		util.Error(w, http.StatusNotFound, "post not found")
	case errors.Is(err, auth.ErrInvalidLogin):
		util.Error(w, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, auth.ErrInvalidToken):
		util.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, graph.ErrSelfFollow):
		util.Error(w, http.StatusBadRequest, "You can not follow yourself")
	default:
		s.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		util.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeForm reads the JSON body into form and validates it.
func decodeForm(r *http.Request, form any) error {
	if err := util.Decode(r, form); err != nil {
		return forms.FieldErrors{"body": "invalid JSON: " + err.Error()}
	}
	return forms.Validate(form)
}

// ------------------------------------------------------------------------------
// ------------Accounts---------------------------------------------------------

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var f forms.Registration
	if err := decodeForm(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}

	var u models.User
	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		var err error
		u, err = auth.Register(r.Context(), tx, f.Email, f.Username, f.Password)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RegisterSuccess.Inc()
	s.Log.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	util.Render(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var f forms.Login
	if err := decodeForm(r, &f); err != nil {
		metrics.LoginFailure.WithLabelValues("invalid_form").Inc()
		s.writeError(w, r, err)
		return
	}

	var (
		sid string
		uid int64
	)
	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		var err error
		sid, uid, err = auth.Login(r.Context(), tx, f.Username, f.Password, s.Cfg.SessionLifetime)
		return err
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidLogin) {
			metrics.LoginFailure.WithLabelValues("invalid_credentials").Inc()
		} else {
			metrics.LoginFailure.WithLabelValues("error").Inc()
		}
		s.Log.Info("login failed", zap.String("username", f.Username), zap.Error(err))
		s.writeError(w, r, err)
		return
	}

	metrics.LoginSuccess.Inc()
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	// without remember_me the cookie lives for the browser session only
	if f.RememberMe {
		cookie.Expires = time.Now().Add(s.Cfg.SessionLifetime)
	}
	http.SetCookie(w, cookie)
	util.Render(w, http.StatusOK, map[string]any{"user_id": uid})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		if err := auth.Logout(r.Context(), s.DB, c.Value); err != nil {
			s.writeError(w, r, err)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())
	u, err := auth.UserByID(r.Context(), s.DB, uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	util.Render(w, http.StatusOK, u)
}

// handleResetRequest answers 202 whether or not the email is known.
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var f forms.ResetPasswordRequest
	if err := decodeForm(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		token string
		u     models.User
	)
	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		var err error
		token, u, err = auth.RequestPasswordReset(r.Context(), tx, f.Email, s.Cfg.ResetTokenLifetime)
		return err
	})
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		s.Log.Info("password reset for unknown email", zap.String("email", f.Email))
	case err != nil:
		s.writeError(w, r, err)
		return
	default:
		if err := s.Notifier.PasswordReset(r.Context(), u, token); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	util.Render(w, http.StatusAccepted, map[string]string{
		"message": "Check your email for the instructions to reset your password",
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var f forms.ResetPassword
	if err := decodeForm(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}
	token := mux.Vars(r)["token"]
	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		_, err := auth.ResetPassword(r.Context(), tx, token, f.Password)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditProfile(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())
	var f forms.EditProfile
	if err := decodeForm(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}

	var u models.User
	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		var err error
		u, err = auth.UpdateProfile(r.Context(), tx, uid, f.Username, f.AboutMe)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	util.Render(w, http.StatusOK, u)
}

// ------------------------------------------------------------------------------
// ------------Feeds-------------------------------------------------------------

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())
	p, err := graph.FollowedPostsPage(r.Context(), s.DB, uid, pageParam(r), s.Cfg.PostsPerPage, s.Cfg.PostsPerPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	util.Render(w, http.StatusOK, withLinks("/index", nil, p))
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	p, err := posts.Explore(r.Context(), s.DB, pageParam(r), s.Cfg.PostsPerPage, s.Cfg.PostsPerPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	util.Render(w, http.StatusOK, withLinks("/explore", nil, p))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	f := forms.Search{Q: strings.TrimSpace(r.URL.Query().Get("q"))}
	if err := forms.Validate(f); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := posts.Search(r.Context(), s.DB, s.Index, f.Q, pageParam(r), s.Cfg.PostsPerPage, s.Cfg.PostsPerPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	util.Render(w, http.StatusOK, withLinks("/search", url.Values{"q": {f.Q}}, p))
}

// ------------------------------------------------------------------------------
// ------------Posts and comments------------------------------------------------

func (s *Server) handlePostCreate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())
	var f forms.Post
	if err := decodeForm(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}

	var p models.Post
	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		var err error
		p, err = posts.AddPost(r.Context(), tx, uid, f.Body)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.PostsCreated.Inc()
	s.Log.Info("post created", zap.Int64("user_id", uid), zap.Int64("post_id", p.ID))
	w.Header().Set("Location", fmt.Sprintf("/posts/%d", p.ID))
	util.Render(w, http.StatusCreated, p)
}

func postID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handlePostView(w http.ResponseWriter, r *http.Request) {
	p, err := posts.GetPost(r.Context(), s.DB, postID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cs, err := posts.Comments(r.Context(), s.DB, p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	util.Render(w, http.StatusOK, postJSON{Post: p, Comments: cs})
}

func (s *Server) handleCommentCreate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())
	var f forms.Comment
	if err := decodeForm(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}

	var c models.Comment
	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		var err error
		c, err = posts.AddComment(r.Context(), tx, uid, postID(r), f.Content)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.CommentsCreated.Inc()
	util.Render(w, http.StatusCreated, c)
}

// ------------------------------------------------------------------------------
// ------------Users and follows-------------------------------------------------

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, _ := auth.UserIDFrom(ctx)
	u, err := auth.UserByUsername(ctx, s.DB, mux.Vars(r)["username"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if u.ID != uid {
		u.Email = ""
	}

	out := profileJSON{User: u}
	if out.Followers, err = graph.FollowerCount(ctx, s.DB, u.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if out.Followed, err = graph.FollowedCount(ctx, s.DB, u.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if out.IsFollowing, err = graph.IsFollowing(ctx, s.DB, uid, u.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := posts.ByAuthor(ctx, s.DB, u.ID, pageParam(r), s.Cfg.PostsPerPage, s.Cfg.PostsPerPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out.Posts = withLinks("/user/"+url.PathEscape(u.Username), nil, p)
	util.Render(w, http.StatusOK, out)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	s.listNeighbours(w, r, graph.Followers)
}

func (s *Server) handleFollowed(w http.ResponseWriter, r *http.Request) {
	s.listNeighbours(w, r, graph.Followed)
}

func (s *Server) listNeighbours(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, q db.Querier, id int64) ([]models.User, error)) {
	u, err := auth.UserByUsername(r.Context(), s.DB, mux.Vars(r)["username"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	users, err := list(r.Context(), s.DB, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	util.Render(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	s.changeFollow(w, r, "follow", graph.Follow, "You are now following %s")
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	s.changeFollow(w, r, "unfollow", graph.Unfollow, "You are no longer following %s")
}

func (s *Server) changeFollow(w http.ResponseWriter, r *http.Request, action string,
	apply func(ctx context.Context, q db.Querier, follower, followee int64) error, okMsg string) {
	uid, _ := auth.UserIDFrom(r.Context())
	username := mux.Vars(r)["username"]

	err := db.WithTx(r.Context(), s.DB, func(tx *sql.Tx) error {
		target, err := auth.UserByUsername(r.Context(), tx, username)
		if err != nil {
			return err
		}
		return apply(r.Context(), tx, uid, target.ID)
	})
	if errors.Is(err, auth.ErrUserNotFound) {
		util.Error(w, http.StatusNotFound, fmt.Sprintf("User %s not found", username))
		return
	}
	if errors.Is(err, graph.ErrSelfFollow) {
		util.Error(w, http.StatusBadRequest, fmt.Sprintf("You can not %s yourself", action))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.FollowChanges.WithLabelValues(action).Inc()
	util.Render(w, http.StatusOK, map[string]string{"message": fmt.Sprintf(okMsg, username)})
}

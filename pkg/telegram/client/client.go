// Package client реализует conn.LoginConn поверх gotd/td.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"atg_broadcast/models"
	"atg_broadcast/pkg/telegram/conn"
)

// Dialer открывает соединения gotd с файловым хранилищем сессий.
type Dialer struct {
	apiID   int
	apiHash string
	proxy   *models.Proxy
	log     zerolog.Logger
}

func NewDialer(apiID int, apiHash string, p *models.Proxy, log zerolog.Logger) *Dialer {
	return &Dialer{
		apiID:   apiID,
		apiHash: apiHash,
		proxy:   p,
		log:     log.With().Str("component", "TELEGRAM").Logger(),
	}
}

// newClient создаёт клиент Telegram с сессией в файле и, если задан, SOCKS5-прокси.
func (d *Dialer) newClient(phone, sessionPath string) (*telegram.Client, error) {
	opts := telegram.Options{SessionStorage: &session.FileStorage{Path: sessionPath}}
	if d.proxy.Enabled() {
		addr := fmt.Sprintf("%s:%d", d.proxy.IP, d.proxy.Port)
		var creds *proxy.Auth
		if d.proxy.Login != "" || d.proxy.Password != "" {
			creds = &proxy.Auth{User: d.proxy.Login, Password: d.proxy.Password}
		}
		pd, err := proxy.SOCKS5("tcp", addr, creds, proxy.Direct)
		if err != nil {
			return nil, errors.Wrap(err, "proxy dialer")
		}
		dc, ok := pd.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("proxy dialer missing context")
		}
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dc.DialContext})
		d.log.Debug().Str("phone", phone).Str("proxy", addr).Msg("подключение через прокси")
	}
	return telegram.NewClient(d.apiID, d.apiHash, opts), nil
}

// Dial подключается к Telegram и держит соединение до Close.
func (d *Dialer) Dial(ctx context.Context, phone, sessionPath string) (conn.LoginConn, error) {
	tc, err := d.newClient(phone, sessionPath)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		phone:  phone,
		log:    d.log.With().Str("phone", phone).Logger(),
		client: tc,
		peers:  make(map[int64]peer),
	}
	if err := c.start(ctx); err != nil {
		return nil, err
	}
	c.api = tg.NewClient(tc)
	c.sender = message.NewSender(c.api)
	return c, nil
}

// Conn - живое соединение одного аккаунта. client.Run крутится в фоне,
// вызовы API идут с контекстом вызывающего.
type Conn struct {
	phone  string
	log    zerolog.Logger
	client *telegram.Client
	api    *tg.Client
	sender *message.Sender

	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	closing sync.Once

	mu    sync.RWMutex
	peers map[int64]peer
}

// start запускает client.Run и ждёт, пока соединение установится.
func (c *Conn) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	ready := make(chan struct{})

	go func() {
		defer close(c.done)
		c.runErr = c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		c.log.Debug().Msg("соединение установлено")
		return nil
	case <-c.done:
		cancel()
		if c.runErr == nil {
			return errors.New("connection closed before ready")
		}
		return errors.Wrap(c.runErr, "connect")
	case <-ctx.Done():
		cancel()
		<-c.done
		return ctx.Err()
	}
}

// Close останавливает клиент и дожидается завершения Run. Повторный вызов безопасен.
func (c *Conn) Close() error {
	var err error
	c.closing.Do(func() {
		c.cancel()
		<-c.done
		if c.runErr != nil && !errors.Is(c.runErr, context.Canceled) {
			err = c.runErr
		}
		c.log.Debug().Msg("соединение закрыто")
	})
	return err
}

func (c *Conn) RequestCode(ctx context.Context, phone string) (string, error) {
	sentCode, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", mapError(err)
	}
	sent, ok := sentCode.(*tg.AuthSentCode)
	if !ok {
		return "", errors.Errorf("unexpected sent code type: %T", sentCode)
	}
	return sent.PhoneCodeHash, nil
}

func (c *Conn) SignIn(ctx context.Context, phone, phoneCodeHash, code string) (conn.Identity, error) {
	a, err := c.client.Auth().SignIn(ctx, phone, code, phoneCodeHash)
	if err != nil {
		return conn.Identity{}, mapError(err)
	}
	return identity(a), nil
}

func (c *Conn) CheckPassword(ctx context.Context, password string) (conn.Identity, error) {
	a, err := c.client.Auth().Password(ctx, password)
	if err != nil {
		return conn.Identity{}, mapError(err)
	}
	return identity(a), nil
}

func (c *Conn) Authorized(ctx context.Context) (bool, error) {
	st, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, mapError(err)
	}
	return st.Authorized, nil
}

func identity(a *tg.AuthAuthorization) conn.Identity {
	if a == nil {
		return conn.Identity{}
	}
	u, ok := a.User.(*tg.User)
	if !ok {
		return conn.Identity{}
	}
	return conn.Identity{ID: u.ID, FirstName: u.FirstName, Username: u.Username}
}

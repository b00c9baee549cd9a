package session

import (
	"context"
	"fmt"

	"github.com/ehabkost/passerd/internal/auth"
	"github.com/ehabkost/passerd/internal/db"
	"github.com/ehabkost/passerd/internal/dialog"
	"github.com/ehabkost/passerd/internal/twitter"
)

// setup stages; handlers ignore input that belongs to another stage, since
// dialog patterns from earlier runs stay registered.
const (
	setupIdle = iota
	setupAwaitPIN
	setupAwaitPassword
	setupConfirmShort
)

const generatedPasswordLen = 12

// setupDialog walks a new user through the delegated-authorization handshake
// on the setup channel: authorize in the browser, paste the PIN back, then
// pick a connection password.
type setupDialog struct {
	s  *Session
	ch *Channel
	d  *dialog.Dialog

	stage   int
	flow    *twitter.OAuthFlow
	token   string
	secret  string
	remote  *twitter.User
	account *db.User

	pendingPassword string
	greeted         bool
	pinPattern      bool
}

func newSetupDialog(s *Session, ch *Channel) *setupDialog {
	sd := &setupDialog{s: s, ch: ch}
	sd.d = dialog.New(ch.botMsg)
	sd.d.SetUnknown(func(string) {
		sd.d.Message("Sorry, I don't know what you mean. Say 'ready' to start the setup, or 'restart' to start over.")
	})
	sd.d.WaitFor(`^restart$`, func(string, []string) error {
		sd.restart()
		return nil
	})
	sd.d.WaitFor(`^ready$`, func(string, []string) error {
		return sd.startAuthorization()
	})
	return sd
}

func (sd *setupDialog) recv(text string) {
	sd.d.Recv(text)
}

// begin greets the user when they join the channel.
func (sd *setupDialog) begin() {
	if sd.greeted {
		return
	}
	sd.greeted = true
	sd.greet()
}

func (sd *setupDialog) greet() {
	sd.d.Message("Hi, welcome to Passerd!")
	sd.d.Message("I will help you set up your account.")
	sd.d.Message("Passerd needs your authorization to talk to Twitter on your behalf.")
	sd.d.Message("Say 'ready' when you want to start, or 'restart' at any point to start over.")
}

func (sd *setupDialog) restart() {
	sd.stage = setupIdle
	sd.flow = nil
	sd.token = ""
	sd.secret = ""
	sd.remote = nil
	sd.pendingPassword = ""
	sd.d.Message("OK, let's start over.")
	sd.greet()
}

func (sd *setupDialog) startAuthorization() error {
	if sd.s.cfg.NewOAuthFlow == nil {
		sd.d.Message("Sorry, this server is not configured for Twitter authorization.")
		return nil
	}
	sd.flow = sd.s.cfg.NewOAuthFlow()
	sd.d.Message("One moment, asking Twitter for an authorization slot...")
	flow := sd.flow
	go func() {
		url, err := flow.Start()
		sd.s.post(func() {
			if sd.flow != flow {
				return
			}
			if err != nil {
				sd.d.Messagef("I couldn't start the authorization: %v", err)
				sd.d.Message("Say 'ready' to try again.")
				return
			}
			sd.stage = setupAwaitPIN
			sd.registerPINPattern()
			sd.d.Message("Please open this URL in your browser and authorize Passerd:")
			sd.d.Message(url)
			sd.d.Message("Twitter will show you a PIN code. Paste it here when you have it.")
		})
	}()
	return nil
}

// registerPINPattern is installed lazily so digit input before the handshake
// starts falls through to the unknown handler.
func (sd *setupDialog) registerPINPattern() {
	if sd.pinPattern {
		return
	}
	sd.pinPattern = true
	sd.d.WaitFor(`^([0-9][0-9][0-9]+)$`, func(_ string, m []string) error {
		return sd.gotPIN(m[1])
	})
}

func (sd *setupDialog) gotPIN(pin string) error {
	if sd.stage != setupAwaitPIN || sd.flow == nil {
		sd.d.Message("We are not at the PIN step. Say 'ready' to start the setup.")
		return nil
	}
	flow := sd.flow
	sd.d.Message("Checking your PIN...")
	go func() {
		token, secret, err := flow.Finish(pin)
		sd.s.post(func() {
			if sd.flow != flow {
				return
			}
			if err != nil {
				sd.d.Messagef("that PIN did not work: %v", err)
				sd.d.Message("Paste the PIN again, or say 'restart' to start over.")
				return
			}
			sd.token, sd.secret = token, secret
			sd.probeNewToken()
		})
	}()
	return nil
}

// probeNewToken verifies the freshly issued token and stores it on the
// account.
func (sd *setupDialog) probeNewToken() {
	api := sd.s.cfg.TokenAPI(sd.token, sd.secret)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
		defer cancel()
		u, err := api.VerifyCredentials(ctx)
		sd.s.post(func() {
			if err != nil {
				sd.d.Messagef("the new authorization doesn't seem to work: %v", err)
				sd.d.Message("Say 'restart' to try again.")
				return
			}
			sd.finishAuthorization(u)
		})
	}()
}

func (sd *setupDialog) finishAuthorization(u *twitter.User) {
	account, err := sd.s.cfg.Store.GetUserByRemoteID(u.ID, u.ScreenName, true)
	if err != nil {
		sd.d.Messagef("I couldn't create your account: %v", err)
		return
	}
	if err := sd.s.cfg.Store.SetToken(account, sd.token, sd.secret); err != nil {
		sd.d.Messagef("I couldn't save your authorization: %v", err)
		return
	}
	sd.remote = u
	sd.account = account
	sd.s.cacheUser(u)

	sd.d.Messagef("Hello, @%s! Your authorization worked.", u.ScreenName)
	sd.d.Message("Now let's set the password you will use when connecting to Passerd.")
	sd.d.Message("Choose your own (say: password <yourpassword>), or let me make one up (say: generate).")
	sd.stage = setupAwaitPassword

	sd.d.WaitFor(`^password (.+)$`, func(_ string, m []string) error {
		return sd.passwordChosen(m[1])
	})
	sd.d.WaitFor(`^generate$`, func(string, []string) error {
		return sd.generatePassword()
	})
}

func (sd *setupDialog) passwordChosen(pw string) error {
	if sd.stage != setupAwaitPassword && sd.stage != setupConfirmShort {
		return nil
	}
	if len(pw) < 6 {
		sd.pendingPassword = pw
		sd.stage = setupConfirmShort
		sd.d.Message("That password is quite short. Say 'yes' to use it anyway, or give me another one (say: password <yourpassword>).")
		sd.d.WaitFor(`^yes$`, func(string, []string) error {
			if sd.stage != setupConfirmShort || sd.pendingPassword == "" {
				return nil
			}
			return sd.savePassword(sd.pendingPassword, false)
		})
		return nil
	}
	return sd.savePassword(pw, false)
}

func (sd *setupDialog) generatePassword() error {
	if sd.stage != setupAwaitPassword && sd.stage != setupConfirmShort {
		return nil
	}
	pw, err := auth.GeneratePassword(generatedPasswordLen)
	if err != nil {
		return err
	}
	return sd.savePassword(pw, true)
}

func (sd *setupDialog) savePassword(pw string, generated bool) error {
	account := sd.account
	if account == nil {
		return fmt.Errorf("no account to set the password on")
	}
	go func() {
		hash, err := auth.HashPassword(pw)
		sd.s.post(func() {
			if err != nil {
				sd.d.Messagef("I couldn't hash your password: %v", err)
				return
			}
			if err := sd.s.cfg.Store.SetPasswordHash(account, hash); err != nil {
				sd.d.Messagef("I couldn't save your password: %v", err)
				return
			}
			sd.stage = setupIdle
			sd.pendingPassword = ""
			if generated {
				sd.d.Messagef("Your password is: %s -- write it down somewhere!", pw)
			}
			sd.d.Message("Password saved!")
			sd.activate()
		})
	}()
	return nil
}

// activate logs the session in right away so the user does not have to
// reconnect after finishing the setup.
func (sd *setupDialog) activate() {
	if sd.remote == nil {
		return
	}
	if sd.s.authenticated() {
		sd.d.Messagef("Setup complete. Connect with nick %s and your new password.", sd.remote.ScreenName)
		return
	}
	sd.s.account = sd.account
	sd.s.remote = sd.remote
	sd.s.api = sd.s.cfg.TokenAPI(sd.token, sd.secret)
	sd.s.forceNick(sd.remote.ScreenName)
	sd.d.Messagef("You are now logged in as %s. Enjoy!", sd.remote.ScreenName)
	sd.s.activateUser()
}

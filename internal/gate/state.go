// Package gate は認証・プロフィール状態に応じた画面遷移の判定を行う。
package gate

import (
	"errors"
	"fmt"
)

// State はゲートの状態。
type State int

const (
	Unauthenticated State = iota
	AuthenticatedNoProfile
	AuthenticatedComplete
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case AuthenticatedNoProfile:
		return "AUTHENTICATED_NO_PROFILE"
	case AuthenticatedComplete:
		return "AUTHENTICATED_COMPLETE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText はJSONで状態名を出力するために実装する。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger は状態遷移のきっかけ。
type Trigger int

const (
	// TriggerSignedIn はサインイン・サインアップ・OAuthコールバックの成功。
	TriggerSignedIn Trigger = iota
	// TriggerProfileCompleted はプロフィール登録フォームの送信成功。
	TriggerProfileCompleted
	// TriggerSignedOut はサインアウト。どの状態からでも未認証に戻る。
	TriggerSignedOut
)

// ErrInvalidTransition は現在の状態で受け付けられない遷移を表す。
var ErrInvalidTransition = errors.New("invalid gate transition")

// Next は状態遷移を計算する。
// profileCompleteはTriggerSignedInのときのみ参照する。
func Next(from State, t Trigger, profileComplete bool) (State, error) {
	switch t {
	case TriggerSignedOut:
		return Unauthenticated, nil
	case TriggerSignedIn:
		if profileComplete {
			return AuthenticatedComplete, nil
		}
		return AuthenticatedNoProfile, nil
	case TriggerProfileCompleted:
		if from != AuthenticatedNoProfile {
			return from, fmt.Errorf("%w: profile completed in %s", ErrInvalidTransition, from)
		}
		return AuthenticatedComplete, nil
	default:
		return from, fmt.Errorf("%w: unknown trigger %d", ErrInvalidTransition, int(t))
	}
}

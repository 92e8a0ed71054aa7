// Package auth даёт интерактивный терминальный вход, которым CLI поднимает
// MTProto-клиент gotd: номер телефона, код входа, необязательный пароль 2FA
// и регистрация при первом запуске. К скорингу, сохранению и краулингу не
// прикасается.
package auth

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// TerminalAuthenticator реализует auth.UserAuthenticator через запросы в
// stdin/stdout. Формат номера не валидирует; от вызывающей стороны
// ожидается E.164.
type TerminalAuthenticator struct {
	PhoneNumber string

	reader *bufio.Reader
}

func (t *TerminalAuthenticator) stdin() *bufio.Reader {
	if t.reader == nil {
		t.reader = bufio.NewReader(os.Stdin)
	}
	return t.reader
}

func (t *TerminalAuthenticator) readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := t.stdin().ReadString('\n')
	return strings.TrimSpace(line), err
}

// Phone возвращает заранее заданный номер.
func (t *TerminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

// Code запрашивает код входа, только что отправленный Telegram.
func (t *TerminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return t.readLine("Enter the code from Telegram: ")
}

// Password читает пароль 2FA без эха в терминал.
func (t *TerminalAuthenticator) Password(_ context.Context) (string, error) {
	fmt.Print("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService требует явного ответа "y"/"Y".
func (t *TerminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	fmt.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := t.readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp собирает имя (и необязательную фамилию) для ещё не
// зарегистрированного номера.
func (t *TerminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := t.readLine("Enter your first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := t.readLine("Enter your last name (optional): ")
	return auth.UserInfo{FirstName: firstName, LastName: lastName}, nil
}

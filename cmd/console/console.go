package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/autherr"
	"userdesk/client/internal/directory"
	"userdesk/client/internal/orchestrator"
	"userdesk/client/internal/platform/rbac"
	"userdesk/client/internal/session"
	sessiondomain "userdesk/client/internal/session/domain"
	userdomain "userdesk/client/internal/user/domain"
)

const helpText = `Commandes :
  login <email>    se connecter (le mot de passe est demandé ensuite)
  otp <code>       valider le code reçu par SMS
  resend           renvoyer un code
  cancel           abandonner la connexion en cours
  logout           se déconnecter
  list             afficher les utilisateurs
  create           ajouter un utilisateur
  update <id>      modifier un utilisateur
  delete <id>      supprimer un utilisateur
  status           état de la session
  quit             quitter
`

// Console is the line-oriented front-end over the orchestrator and the directory client.
type Console struct {
	in      *bufio.Scanner
	out     io.Writer
	orch    *orchestrator.Orchestrator
	users   *directory.Client
	records *directory.Records
	gate    *rbac.Gate
	machine *session.Machine
	logger  *zap.Logger
}

func newConsole(
	term Terminal,
	orch *orchestrator.Orchestrator,
	users *directory.Client,
	records *directory.Records,
	gate *rbac.Gate,
	m *session.Machine,
	logger *zap.Logger,
) *Console {
	return &Console{
		in:      bufio.NewScanner(term.In),
		out:     term.Out,
		orch:    orch,
		users:   users,
		records: records,
		gate:    gate,
		machine: m,
		logger:  logger.Named("console"),
	}
}

// Run reads commands until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprint(c.out, helpText)
	if err := c.orch.ReloadUsers(ctx); err != nil {
		c.logger.Warn("initial user list load failed", zap.Error(err))
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintf(c.out, "[%s]> ", c.machine.Phase())
		if !c.in.Scan() {
			return c.in.Err()
		}
		if quit := c.Execute(ctx, c.in.Text()); quit {
			return nil
		}
	}
}

// Execute runs one command line. It reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "login":
		c.login(ctx, args)
	case "otp":
		c.verify(ctx, strings.Join(args, ""))
	case "resend":
		if err := c.orch.ResendOTP(ctx); err != nil {
			c.fail(err)
			return false
		}
		fmt.Fprintln(c.out, c.orch.View().Resend.Notice)
	case "cancel":
		if err := c.orch.Cancel(); err != nil {
			c.fail(err)
			return false
		}
		fmt.Fprintln(c.out, "Connexion annulée")
	case "logout":
		wasSignedIn := c.machine.Current().Authenticated()
		c.orch.Logout()
		if wasSignedIn {
			fmt.Fprintln(c.out, "Déconnecté")
		}
	case "list":
		if err := c.orch.ReloadUsers(ctx); err != nil {
			c.fail(err)
			return false
		}
		c.printUsers()
	case "create":
		c.create(ctx)
	case "update":
		c.update(ctx, args)
	case "delete":
		c.delete(ctx, args)
	case "status":
		c.status()
	case "help", "?":
		fmt.Fprint(c.out, helpText)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(c.out, "Commande inconnue : %s (help pour la liste)\n", cmd)
	}
	return false
}

func (c *Console) login(ctx context.Context, args []string) {
	if c.machine.Phase() == sessiondomain.PhaseAnonymous {
		if err := c.orch.OpenLogin(); err != nil {
			c.fail(err)
			return
		}
	}
	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		email = c.ask("Email : ")
	}
	password := c.ask("Mot de passe : ")
	err := c.orch.SubmitCredentials(ctx, authclient.Credentials{Email: email, Password: password})
	if err != nil {
		c.fail(err)
		return
	}
	v := c.orch.View()
	fmt.Fprintf(c.out, "Un code a été envoyé à votre numéro de téléphone (%s)\n", v.PendingEmail)
	if v.Suspect {
		fmt.Fprintln(c.out, "Attention : identifiant de vérification non fourni par le serveur")
	}
	fmt.Fprintln(c.out, v.Hint)
}

func (c *Console) verify(ctx context.Context, raw string) {
	c.orch.SetOTPInput(raw)
	if err := c.orch.SubmitOTP(ctx); err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintln(c.out, c.orch.View().Verify.Notice)
	c.printUsers()
}

func (c *Console) create(ctx context.Context) {
	if !c.allowed(ctx, rbac.ActionCreate) {
		return
	}
	u := userdomain.User{
		Name:     c.ask("Nom : "),
		Email:    c.ask("Email : "),
		Password: c.ask("Mot de passe : "),
		Phone:    c.ask("Téléphone : "),
	}
	if err := c.users.Create(ctx, u); err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintln(c.out, "Utilisateur ajouté")
	c.refresh(ctx)
}

func (c *Console) update(ctx context.Context, args []string) {
	id, ok := c.parseID(args)
	if !ok || !c.allowed(ctx, rbac.ActionUpdate) {
		return
	}
	current := userdomain.User{ID: id}
	for _, u := range c.records.All() {
		if u.ID == id {
			current = u
			break
		}
	}
	u := userdomain.User{
		Name:     c.askDefault("Nom", current.Name),
		Email:    c.askDefault("Email", current.Email),
		Password: c.ask("Mot de passe (vide = inchangé) : "),
		Phone:    c.askDefault("Téléphone", current.Phone),
	}
	if err := c.users.Update(ctx, id, u); err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintln(c.out, "Utilisateur modifié")
	c.refresh(ctx)
}

func (c *Console) delete(ctx context.Context, args []string) {
	id, ok := c.parseID(args)
	if !ok {
		return
	}
	if err := c.users.Delete(ctx, id); err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintln(c.out, "Utilisateur supprimé")
	c.refresh(ctx)
}

// allowed asks the gate before any field is prompted.
func (c *Console) allowed(ctx context.Context, action rbac.Action) bool {
	if _, err := c.gate.RequireSession(ctx, action); err != nil {
		c.fail(err)
		return false
	}
	return true
}

func (c *Console) refresh(ctx context.Context) {
	if err := c.orch.ReloadUsers(ctx); err != nil {
		c.fail(err)
		return
	}
	c.printUsers()
}

func (c *Console) status() {
	v := c.orch.View()
	fmt.Fprintf(c.out, "Phase : %s\n", v.Phase)
	switch v.Phase {
	case sessiondomain.PhaseAwaitingOTP:
		fmt.Fprintf(c.out, "Email : %s\n", v.PendingEmail)
		fmt.Fprintln(c.out, v.Hint)
		if v.Verify.Error != "" {
			fmt.Fprintf(c.out, "Erreur : %s\n", v.Verify.Error)
		}
		if v.Resend.Error != "" {
			fmt.Fprintf(c.out, "Erreur : %s\n", v.Resend.Error)
		}
	case sessiondomain.PhaseAuthenticated:
		fmt.Fprintf(c.out, "Connecté : %s <%s> %s\n", v.User.Name, v.User.Email, v.User.Phone)
	default:
		if v.Login.Error != "" {
			fmt.Fprintf(c.out, "Erreur : %s\n", v.Login.Error)
		}
	}
	fmt.Fprintf(c.out, "Utilisateurs chargés : %d\n", len(v.Users))
}

func (c *Console) printUsers() {
	users := c.records.All()
	if len(users) == 0 {
		fmt.Fprintln(c.out, "Aucun utilisateur")
		return
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNOM\tEMAIL\tTÉLÉPHONE")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Phone)
	}
	w.Flush()
}

func (c *Console) parseID(args []string) (int64, bool) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Identifiant requis")
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(c.out, "Identifiant invalide : %s\n", args[0])
		return 0, false
	}
	return id, true
}

func (c *Console) ask(prompt string) string {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		return ""
	}
	return strings.TrimSpace(c.in.Text())
}

func (c *Console) askDefault(label, current string) string {
	v := c.ask(fmt.Sprintf("%s [%s] : ", label, current))
	if v == "" {
		return current
	}
	return v
}

// fail prints err with a prefix chosen by its kind.
func (c *Console) fail(err error) {
	prefix := "Erreur"
	switch autherr.KindOf(err) {
	case autherr.KindValidation:
		prefix = "Saisie invalide"
	case autherr.KindAuthorizationDenied:
		prefix = "Accès refusé"
	case autherr.KindInFlight:
		prefix = "Patientez"
	}
	fmt.Fprintf(c.out, "%s : %s\n", prefix, autherr.DisplayMessage(err, authclient.MsgServerUnreachable))
}

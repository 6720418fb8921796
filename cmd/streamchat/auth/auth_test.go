package authcmder_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/streamchat/cmd/streamchat/auth"
	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/pkg/tokenstore"
)

var _ = Describe("Auth Commands", func() {
	var (
		ctx       context.Context
		cfgPath   string
		credsPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir := GinkgoT().TempDir()
		credsPath = filepath.Join(tmpDir, "credentials.toml")
		cfgPath = filepath.Join(tmpDir, "config.toml")
		cfg := fmt.Sprintf("base_url = %q\ncredentials_path = %q\n", "http://backend.test/api", credsPath)
		Expect(os.WriteFile(cfgPath, []byte(cfg), 0o600)).To(Succeed())
	})

	execute := func(stdin string, args ...string) (string, error) {
		root := &cobra.Command{Use: "streamchat", SilenceUsage: true, SilenceErrors: true}
		flags := cliconfig.Register(root)
		root.AddCommand(authcmder.NewLoginCmd(flags), authcmder.NewLogoutCmd(flags), authcmder.NewWhoamiCmd(flags))

		var out bytes.Buffer
		root.SetIn(strings.NewReader(stdin))
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		err := root.ExecuteContext(ctx)
		return out.String(), err
	}

	storedToken := func() string {
		store := tokenstore.NewFile(credsPath, nil)
		Expect(store.Load(ctx)).To(Succeed())
		return store.Token()
	}

	It("logs in with a token argument", func() {
		out, err := execute("", "login", "tok-1234567890")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Logged in"))
		Expect(storedToken()).To(Equal("tok-1234567890"))

		info, err := os.Stat(credsPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
	})

	It("logs in with a token read from input", func() {
		_, err := execute("piped-token\n", "login")
		Expect(err).NotTo(HaveOccurred())
		Expect(storedToken()).To(Equal("piped-token"))
	})

	It("rejects an empty token", func() {
		_, err := execute("\n", "login")
		Expect(err).To(MatchError(ContainSubstring("no token")))
	})

	It("reports the login state", func() {
		out, err := execute("", "whoami")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("http://backend.test/api"))
		Expect(out).To(ContainSubstring("Not logged in."))

		_, err = execute("", "login", "abcd-secret-wxyz")
		Expect(err).NotTo(HaveOccurred())

		out, err = execute("", "whoami")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("abcd…wxyz"))
		Expect(out).NotTo(ContainSubstring("secret"))
	})

	It("logs out", func() {
		_, err := execute("", "login", "tok")
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("", "logout")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Logged out."))
		Expect(storedToken()).To(BeEmpty())

		_, err = os.Stat(credsPath)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/joe/multisave/internal/config"
)

func TestCommandLifecycle(t *testing.T) {
	g := NewWithT(t)

	dir := t.TempDir()
	source := filepath.Join(dir, "src")
	target := filepath.Join(dir, "dst")

	g.Expect(os.MkdirAll(filepath.Join(source, "sub"), 0o750)).To(Succeed())
	g.Expect(os.WriteFile(filepath.Join(source, "sub", "a.txt"), []byte("alpha"), 0o600)).To(Succeed())

	invoke := func(set func(*config.Args)) string {
		args := &config.Args{
			Config:   filepath.Join(dir, "multisave.json"),
			LogDir:   filepath.Join(dir, "logs"),
			LogLevel: "<root>=WARNING",
		}
		set(args)

		processed, err := config.PostProcessArgs(args)
		g.Expect(err).NotTo(HaveOccurred())

		var out bytes.Buffer
		g.Expect(run(processed, &out)).To(Succeed())

		return out.String()
	}

	g.Expect(invoke(func(a *config.Args) {
		a.Add = &config.AddCmd{Name: "docs", Source: source, Target: target, Type: config.Differential}
	})).To(ContainSubstring("added job 1: docs"))

	g.Expect(invoke(func(a *config.Args) { a.List = &config.ListCmd{} })).To(ContainSubstring("never run"))

	g.Expect(invoke(func(a *config.Args) { a.Run = &config.RunCmd{Selection: "1"} })).To(ContainSubstring("ok"))

	copied, err := os.ReadFile(filepath.Join(target, "sub", "a.txt"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(copied)).To(Equal("alpha"))

	transfers, err := os.ReadFile(filepath.Join(dir, "logs", "transfers.jsonl"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(strings.Count(string(transfers), "\n")).To(Equal(1))

	listing := invoke(func(a *config.Args) { a.List = &config.ListCmd{} })
	g.Expect(listing).To(ContainSubstring("docs"))
	g.Expect(listing).To(ContainSubstring("Completed"))
	g.Expect(listing).To(ContainSubstring("100%"))
	g.Expect(invoke(func(a *config.Args) { a.List = &config.ListCmd{} })).To(Equal(listing))

	g.Expect(invoke(func(a *config.Args) { a.Remove = &config.RemoveCmd{Number: 1} })).To(Equal("removed job 1\n"))
	g.Expect(invoke(func(a *config.Args) { a.List = &config.ListCmd{} })).NotTo(ContainSubstring("docs"))
}

func TestRunReportsBadSelection(t *testing.T) {
	g := NewWithT(t)

	dir := t.TempDir()
	args, err := config.PostProcessArgs(&config.Args{
		Config:   filepath.Join(dir, "multisave.json"),
		LogLevel: "<root>=WARNING",
		Run:      &config.RunCmd{Selection: "7"},
	})
	g.Expect(err).NotTo(HaveOccurred())

	var out bytes.Buffer
	g.Expect(run(args, &out)).To(MatchError("not every job succeeded"))
	g.Expect(out.String()).To(ContainSubstring("not found"))
}

func TestReloadAppliesTransferRules(t *testing.T) {
	g := NewWithT(t)

	dir := t.TempDir()
	args, err := config.PostProcessArgs(&config.Args{
		Config:   filepath.Join(dir, "multisave.json"),
		LogLevel: "<root>=WARNING",
		List:     &config.ListCmd{},
	})
	g.Expect(err).NotTo(HaveOccurred())

	store := config.NewStore(args.Config)
	doc, err := store.Load()
	g.Expect(err).NotTo(HaveOccurred())

	a, err := newApp(args, store, doc)
	g.Expect(err).NotTo(HaveOccurred())
	defer a.close()

	g.Expect(a.coordinator.IsPriority("report.pdf")).To(BeFalse())

	doc.Settings.PriorityExtensions = []string{".pdf"}
	doc.Settings.MaxParallelSizeKB = 1
	g.Expect(store.Save(doc)).To(Succeed())

	g.Expect(a.reload()).To(Succeed())
	g.Expect(a.coordinator.IsPriority("report.pdf")).To(BeTrue())
	g.Expect(a.coordinator.IsLarge(2048)).To(BeTrue())

	doc.Settings.LogFormat = "xml"
	g.Expect(store.Save(doc)).To(Succeed())
	g.Expect(a.reload()).NotTo(Succeed())
	g.Expect(a.coordinator.IsPriority("report.pdf")).To(BeTrue(), "rules kept on a rejected reload")
}

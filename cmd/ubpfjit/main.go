// Command ubpfjit builds one of a fixed set of demo eBPF programs,
// JIT-compiles it to native x86-64, runs it, and prints r0.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cnelson/ubpfjit/jit"
)

// scenario is one named demo program and the builder that produces its
// instruction stream.
type scenario struct {
	name  string
	build func() []jit.Inst
}

var scenarios = []scenario{
	{"mov-exit", func() []jit.Inst {
		return []jit.Inst{
			jit.Mov64Imm(jit.R0, 42),
			jit.Exit(),
		}
	}},
	{"add-sub", func() []jit.Inst {
		return []jit.Inst{
			jit.Mov64Imm(jit.R0, 0),
			jit.Mov64Imm(jit.R1, 5),
			jit.Mov64Imm(jit.R2, 3),
			jit.Add64Reg(jit.R0, jit.R1),
			jit.Sub64Reg(jit.R0, jit.R2),
			jit.Exit(),
		}
	}},
	{"div-by-zero", func() []jit.Inst {
		return []jit.Inst{
			jit.Mov64Imm(jit.R0, 10),
			jit.Mov64Imm(jit.R1, 0),
			jit.DivReg(jit.R0, jit.R1),
			jit.Exit(),
		}
	}},
	{"be64", func() []jit.Inst {
		return []jit.Inst{
			// The 32-bit MOV form zero-extends into the full 64-bit
			// register, landing the literal at 0x00000000DEADBEEF
			// without sign-extending it the way a 64-bit imm32 MOV
			// would.
			jit.Mov32Imm(jit.R0, int32(uint32(0xDEADBEEF))),
			jit.BE64(jit.R0),
			jit.Exit(),
		}
	}},
	{"lddw", func() []jit.Inst {
		pair := jit.LDDW(jit.R0, 0x1122334455667788)
		return []jit.Inst{pair[0], pair[1], jit.Exit()}
	}},
	{"ja-skip", func() []jit.Inst {
		return []jit.Inst{
			jit.Mov64Imm(jit.R0, 1),
			jit.JA(1),
			jit.Mov64Imm(jit.R0, 2),
			jit.Exit(),
		}
	}},
	{"mod", func() []jit.Inst {
		return []jit.Inst{
			jit.Mov64Imm(jit.R1, 7),
			jit.Mov64Imm(jit.R2, 3),
			jit.ModReg(jit.R1, jit.R2),
			jit.Mov64Reg(jit.R0, jit.R1),
			jit.Exit(),
		}
	}},
}

func find(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.name == name {
			return s, true
		}
	}
	return scenario{}, false
}

func newVM(name string) (*jit.VM, error) {
	s, ok := find(name)
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	vm := jit.NewVM(s.build())
	vm.ErrorPrintf = func(pc uint32) {
		fmt.Fprintf(os.Stderr, "uBPF error: division by zero at PC %d\n", pc)
	}
	return vm, nil
}

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:   "ubpfjit",
		Short: "JIT-compile and run small eBPF demo programs",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "trace each compilation phase")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list the available demo scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scenarios {
				fmt.Println(s.name)
			}
			return nil
		},
	}

	compileCmd := &cobra.Command{
		Use:   "compile <scenario>",
		Short: "compile a demo scenario without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vm, err := newVM(args[0])
			if err != nil {
				return err
			}
			logrus.Debugf("translating %q under %s", args[0], jit.DefaultABI().Name)
			if err := vm.Compile(jit.DefaultABI()); err != nil {
				return err
			}
			logrus.Debug("jump resolution and executable mapping complete")
			fmt.Printf("%s: compiled\n", args[0])
			return nil
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "compile and execute a demo scenario, printing r0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vm, err := newVM(args[0])
			if err != nil {
				return err
			}
			abi := jit.DefaultABI()
			logrus.Debugf("translating %q under %s", args[0], abi.Name)
			if err := vm.Compile(abi); err != nil {
				return err
			}
			defer vm.Close()

			logrus.Debug("executing compiled program")
			r0, err := vm.Run(nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s: r0 = 0x%x\n", args[0], r0)
			return nil
		},
	}

	root.AddCommand(listCmd, compileCmd, runCmd)

	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

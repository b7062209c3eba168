// shieldctl - command-line tooling for shadowvault nodes and provers
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/rs/zerolog"

	"github.com/shadowvault/core/internal/auth"
	"github.com/shadowvault/core/internal/rpc"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/common"
	"github.com/shadowvault/core/pkg/types"
)

const (
	version    = "0.1.0"
	defaultRPC = "http://127.0.0.1:9401"
	rpcTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "version":
		fmt.Printf("shieldctl v%s\n", version)

	case "help":
		printUsage()

	case "setup":
		if len(args) < 1 {
			fmt.Println("Usage: shieldctl setup <keys-dir>")
			os.Exit(1)
		}
		err = cmdSetup(args[0])

	case "commit":
		if len(args) < 1 {
			fmt.Println("Usage: shieldctl commit <amount> [blinding]")
			os.Exit(1)
		}
		err = cmdCommit(args)

	case "prove":
		if len(args) < 3 {
			fmt.Println("Usage: shieldctl prove <keys-dir> <amount> <blinding>")
			os.Exit(1)
		}
		err = cmdProve(args[0], args[1], args[2])

	case "nullifier":
		if len(args) < 2 {
			fmt.Println("Usage: shieldctl nullifier <secret> <index>")
			os.Exit(1)
		}
		err = cmdNullifier(args[0], args[1])

	case "seal":
		if len(args) < 2 {
			fmt.Println("Usage: shieldctl seal <view-key> <amount>")
			os.Exit(1)
		}
		err = cmdSeal(args[0], args[1])

	case "open":
		if len(args) < 2 {
			fmt.Println("Usage: shieldctl open <view-key> <blob>")
			os.Exit(1)
		}
		err = cmdOpen(args[0], args[1])

	case "keygen":
		err = cmdKeygen()

	case "status":
		err = cmdStatus()

	case "vault":
		if len(args) < 1 {
			fmt.Println("Usage: shieldctl vault <owner>")
			os.Exit(1)
		}
		err = cmdVault(args[0])

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("shieldctl - tooling for shadowvault")
	fmt.Println()
	fmt.Println("Usage: shieldctl <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  version     Show version information")
	fmt.Println("  help        Show this help message")
	fmt.Println("  setup       Run circuit setup and write proving/verifying keys")
	fmt.Println("  commit      Compute a note commitment")
	fmt.Println("  prove       Prove a shield deposit with keys from setup")
	fmt.Println("  nullifier   Compute a nullifier")
	fmt.Println("  seal        Encrypt an amount under a view key")
	fmt.Println("  open        Decrypt a sealed amount")
	fmt.Println("  keygen      Generate a request signing key and its owner id")
	fmt.Println("  status      Show node trees and counters")
	fmt.Println("  vault       Show a vault")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SHIELD_RPC     node endpoint (default " + defaultRPC + ")")
	fmt.Println("  SHIELD_HASHER  mimc or keccak (default mimc)")
}

func hasher() (zkp.Hasher, error) {
	name := os.Getenv("SHIELD_HASHER")
	if name == "" {
		return zkp.DefaultHasher, nil
	}
	return zkp.NewHasher(name)
}

func dial() (*rpc.Client, context.Context, context.CancelFunc, error) {
	url := os.Getenv("SHIELD_RPC")
	if url == "" {
		url = defaultRPC
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	client, err := rpc.Dial(ctx, url)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return client, ctx, cancel, nil
}

func cmdSetup(dir string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cm := zkp.NewCircuitManager(log)

	for _, kind := range zkp.PairingKinds {
		fmt.Printf("Setting up %s circuit...\n", kind)
		if err := cm.Setup(kind); err != nil {
			return fmt.Errorf("%s setup: %w", kind, err)
		}
	}
	if err := cm.ExportKeys(dir); err != nil {
		return err
	}
	fmt.Printf("Keys written to %s\n", dir)
	return nil
}

func cmdCommit(args []string) error {
	h, err := hasher()
	if err != nil {
		return err
	}
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}

	var blinding types.Hash
	if len(args) > 1 {
		if blinding, err = types.HexToHash(args[1]); err != nil {
			return fmt.Errorf("blinding: %w", err)
		}
	} else {
		b, err := common.RandomBytes(types.HashSize)
		if err != nil {
			return err
		}
		// keep the blinding inside the scalar field
		b[0] &= 0x0f
		blinding = types.HashFromBytes(b)
	}

	fmt.Printf("Amount:     %d\n", amount)
	fmt.Printf("Blinding:   %s\n", blinding)
	commitment := zkp.Commitment(h, amount, blinding)
	fmt.Printf("Commitment: %s\n", commitment)
	if _, ok := types.DenominationFromAmount(amount); !ok {
		fmt.Println("Warning: amount is not a shield denomination")
	}
	warnNonCanonical(commitment)
	return nil
}

// warnNonCanonical flags values the ledger rejects; only the keccak hasher
// produces them
func warnNonCanonical(v types.Hash) {
	if !zkp.IsCanonical(v) {
		fmt.Println("Warning: value is not below the BN254 field modulus; the ledger will reject it")
	}
}

// cmdProve always uses MiMC: the circuits hash with it
func cmdProve(dir, amountStr, blindingHex string) error {
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if _, ok := types.DenominationFromAmount(amount); !ok {
		return fmt.Errorf("amount %d is not a shield denomination", amount)
	}
	blinding, err := types.HexToHash(blindingHex)
	if err != nil {
		return fmt.Errorf("blinding: %w", err)
	}

	cm := zkp.NewCircuitManager(zerolog.Nop())
	if err := cm.LoadProvingKey(dir, zkp.ProofShield); err != nil {
		return err
	}

	commitment := zkp.Commitment(zkp.MiMCHasher{}, amount, blinding)
	proof, err := cm.Prove(zkp.ProofShield, zkp.ShieldAssignment(amount, blinding, commitment))
	if err != nil {
		return err
	}

	fmt.Printf("Commitment: %s\n", commitment)
	fmt.Printf("Proof:      %s\n", common.BytesToHex(proof))
	return nil
}

func cmdNullifier(secretHex, indexStr string) error {
	h, err := hasher()
	if err != nil {
		return err
	}
	secret, err := types.HexToHash(secretHex)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	index, err := strconv.ParseUint(indexStr, 10, 64)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	nullifier := zkp.Nullifier(h, secret, index)
	fmt.Printf("Nullifier: %s\n", nullifier)
	warnNonCanonical(nullifier)
	return nil
}

func cmdSeal(viewKeyHex, amountStr string) error {
	viewKey, err := types.HexToHash(viewKeyHex)
	if err != nil {
		return fmt.Errorf("view key: %w", err)
	}
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	blob, err := zkp.SealAmount(viewKey, amount)
	if err != nil {
		return err
	}
	fmt.Printf("Sealed:        %s\n", common.BytesToHex(blob))
	fmt.Printf("View key hash: %s\n", zkp.ViewKeyHash(viewKey))
	return nil
}

func cmdOpen(viewKeyHex, blobHex string) error {
	viewKey, err := types.HexToHash(viewKeyHex)
	if err != nil {
		return fmt.Errorf("view key: %w", err)
	}
	blob, err := common.HexToBytes(blobHex)
	if err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	amount, err := zkp.OpenAmount(viewKey, blob)
	if err != nil {
		return err
	}
	fmt.Printf("Amount: %d\n", amount)
	return nil
}

func cmdKeygen() error {
	priv, pub, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	rawPriv, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return err
	}
	rawPub, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return err
	}
	owner, err := auth.OwnerID(pub)
	if err != nil {
		return err
	}
	fmt.Printf("Private key: %s\n", common.BytesToHex(rawPriv))
	fmt.Printf("Public key:  %s\n", common.BytesToHex(rawPub))
	fmt.Printf("Owner:       %s\n", owner)
	return nil
}

func cmdStatus() error {
	client, ctx, cancel, err := dial()
	if err != nil {
		return err
	}
	defer cancel()
	defer client.Close()

	stats, err := client.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Counters:")
	fmt.Printf("  Shielded:   %d\n", uint64(stats.TotalShielded))
	fmt.Printf("  Unshielded: %d\n", uint64(stats.TotalUnshielded))
	fmt.Printf("  Fees:       %d\n", uint64(stats.FeesCollected))
	fmt.Printf("  Operations: %d\n", uint64(stats.Operations))

	for _, name := range []string{"commitments", "nullifiers"} {
		tree, err := client.Tree(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("Tree %s:\n", name)
		fmt.Printf("  Root:         %s\n", tree.Root)
		fmt.Printf("  Leaves:       %d\n", uint64(tree.NextIndex))
		fmt.Printf("  Recent roots: %d\n", len(tree.RecentRoots))
	}
	return nil
}

func cmdVault(ownerHex string) error {
	owner, err := types.HexToHash(ownerHex)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	client, ctx, cancel, err := dial()
	if err != nil {
		return err
	}
	defer cancel()
	defer client.Close()

	v, err := client.GetVault(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Println("Vault:")
	fmt.Printf("  Owner:         %s\n", v.Owner)
	fmt.Printf("  Notes:         %d\n", uint64(v.NoteCount))
	fmt.Printf("  Disclosures:   %d\n", uint64(v.DisclosureCount))
	fmt.Printf("  View key hash: %s\n", v.ViewKeyHash)
	fmt.Printf("  Created:       %s\n", common.TimestampToTime(int64(v.CreatedAt)).Format(time.RFC3339))
	fmt.Printf("  Last activity: %s\n", common.TimestampToTime(int64(v.LastActivity)).Format(time.RFC3339))
	return nil
}

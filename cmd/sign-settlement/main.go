package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
	"github.com/uhyunpark/duelengine/pkg/crypto"
	"github.com/uhyunpark/duelengine/pkg/settlement"
)

// sign-settlement signs a match result with the settlement authority key and
// prints it, or posts it to a node with -post.
func main() {
	var (
		keyHex      = flag.String("key", os.Getenv("SETTLEMENT_KEY"), "authority private key (hex); generated when empty")
		matchID     = flag.String("match", "", "match id (required)")
		winnerID    = flag.String("winner", "", "winner address, empty for no declared winner")
		isTie       = flag.Bool("tie", false, "result is a tie")
		isForfeit   = flag.Bool("forfeit", false, "match ended by forfeit")
		selfROI     = flag.Float64("self-roi", 0, "ROI of the receiving participant, percent")
		opponentROI = flag.Float64("opponent-roi", 0, "ROI of the opponent, percent")
		post        = flag.String("post", "", "node base url, e.g. http://localhost:8080")
	)
	flag.Parse()

	if *matchID == "" {
		fmt.Fprintln(os.Stderr, "Error: -match is required")
		flag.Usage()
		os.Exit(2)
	}

	// Step 1: Generate or load key
	var (
		signer *crypto.Signer
		err    error
	)
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Fprintln(os.Stderr, "Generating new authority keypair...")
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Authority: %s (set SETTLEMENT_AUTHORITY on the node)\n", signer.Address().Hex())

	// Step 2: Sign the result
	result := reconcile.Result{
		MatchID:     *matchID,
		WinnerID:    *winnerID,
		IsTie:       *isTie,
		IsForfeit:   *isForfeit,
		SelfROI:     *selfROI,
		OpponentROI: *opponentROI,
	}
	signed, err := settlement.Sign(result, signer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Digest: %s\n", settlement.Digest(result).Hex())

	body, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *post == "" {
		fmt.Println(string(body))
		return
	}

	// Step 3: Push to the node
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(*post+"/api/v1/settlement", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error posting: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, out)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

// Command kt-verify is a small CLI around the key-transparency client
// core: it performs a search, distinguished, or monitor operation
// against a configured chat server and prints the verified result as
// JSON. It exists for manual testing and operational debugging, not as
// part of the enclosing app.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/kindlyrobotics/nochat/cmd/kt-verify/internal/config"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/client"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/searchkey"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/transport"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

var prettyJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	op := flag.String("op", "distinguished", "operation to run: search, distinguished, monitor")
	aciFlag := flag.String("aci", "", "hex-encoded 16-byte ACI")
	e164Flag := flag.String("e164", "", "E.164 phone number, optional")
	usernameHashFlag := flag.String("username-hash", "", "base64url-no-pad username hash, optional")
	aciPos := flag.Uint64("aci-pos", 0, "monitor: ACI's last known log position")
	aciIndex := flag.String("aci-index", "", "monitor: ACI's last known commitment index, hex-encoded")
	lastTreeSize := flag.Uint64("last-tree-size", 0, "monitor: last verified non-distinguished tree size")
	flag.Parse()

	cfg := config.Load()

	signingKey, err := config.DecodeKey("KT_SIGNING_PUBLIC_KEY", cfg.SigningKeyHex)
	if err != nil {
		log.Fatalf("[kt-verify] %v", err)
	}
	vrfKey, err := config.DecodeKey("KT_VRF_PUBLIC_KEY", cfg.VRFKeyHex)
	if err != nil {
		log.Fatalf("[kt-verify] %v", err)
	}

	publicConfig := primitives.PublicConfig{
		Mode:               primitives.ModeDirect,
		SignatureAlgorithm: primitives.AlgorithmEd25519,
		SignatureEd25519:   ed25519.PublicKey(signingKey),
		VRFPublicKey:       ed25519.PublicKey(vrfKey),
		MaxHeadAge:         int64((24 * time.Hour).Seconds()),
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	retryCache := transport.NewRetryAfterCache(redisClient)

	httpTransport := transport.NewHTTPTransport(cfg.ChatServerURL)
	rawTransport := transport.WithRawHook(httpTransport, func(req transport.Request, resp *transport.Response, err error) {
		log.Printf("[kt-verify] %s %s -> err=%v", req.Method, req.Path, err)
	})

	driver := client.New(rawTransport, publicConfig, client.DefaultChatTimeout)

	ctx := context.Background()

	if retryCache.Blocked(ctx, "/v1/key-transparency/"+*op) {
		log.Fatalf("[kt-verify] backing off: a prior response asked us to retry later")
	}

	switch *op {
	case "distinguished":
		result, err := driver.Distinguished(ctx, nil)
		if err != nil {
			log.Fatalf("[kt-verify] distinguished failed: %v", err)
		}
		printJSON(result)

	case "search":
		aci, err := parseACI(*aciFlag)
		if err != nil {
			log.Fatalf("[kt-verify] %v", err)
		}
		input := client.SearchInput{
			ACI:           aci,
			Distinguished: store.LastTreeHead{},
		}
		if *e164Flag != "" {
			e164, err := searchkey.ParseE164(*e164Flag)
			if err != nil {
				log.Fatalf("[kt-verify] invalid e164: %v", err)
			}
			input.E164 = &e164
		}
		if *usernameHashFlag != "" {
			hash, err := searchkey.UsernameHashFromChatValue(*usernameHashFlag)
			if err != nil {
				log.Fatalf("[kt-verify] invalid username hash: %v", err)
			}
			input.UsernameHash = &hash
		}
		result, err := driver.Search(ctx, input)
		if err != nil {
			log.Fatalf("[kt-verify] search failed: %v", err)
		}
		printJSON(result)

	case "monitor":
		aci, err := parseACI(*aciFlag)
		if err != nil {
			log.Fatalf("[kt-verify] %v", err)
		}
		index, err := hex.DecodeString(*aciIndex)
		if err != nil {
			log.Fatalf("[kt-verify] invalid -aci-index: %v", err)
		}
		input := client.MonitorInput{
			ACI: aci,
			AccountData: store.AccountData{
				ACI:          store.MonitoringData{Pos: *aciPos, Index: index},
				LastTreeHead: store.LastTreeHead{TreeHead: wire.TreeHead{TreeSize: *lastTreeSize}},
			},
		}
		result, err := driver.Monitor(ctx, input)
		if err != nil {
			log.Fatalf("[kt-verify] monitor failed: %v", err)
		}
		printJSON(result)

	default:
		log.Fatalf("[kt-verify] unsupported -op %q (want search, distinguished, or monitor)", *op)
	}
}

func parseACI(hexStr string) (searchkey.ACI, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return searchkey.ACI{}, err
	}
	return searchkey.ParseACI(raw)
}

func printJSON(v interface{}) {
	b, err := prettyJSON.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("[kt-verify] encoding result: %v", err)
	}
	os.Stdout.Write(b)
	os.Stdout.Write([]byte("\n"))
}

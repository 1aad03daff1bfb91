package crowdsale

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	configKey       = []byte("crowdsale/config")
	statusKey       = []byte("crowdsale/status")
	pendingIndexKey = []byte("crowdsale/pending/index")
	walletKey       = []byte("crowdsale/wallet/received")
)

func admissionKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("crowdsale/admission/%x", addr.Bytes()))
}

func referralKey(investor common.Address) []byte {
	return []byte(fmt.Sprintf("crowdsale/referral/%x", investor.Bytes()))
}

func pendingKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("crowdsale/pending/%x", addr.Bytes()))
}

package chain

// CheckInABI is the subset of the check-in contract the keeper calls.
// lastCheckIn returns a Unix timestamp in seconds, zero if the account never
// checked in.
const CheckInABI = `[
	{
		"type": "function",
		"name": "checkIn",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "recipient", "type": "address"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "lastCheckIn",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`

const (
	methodCheckIn     = "checkIn"
	methodLastCheckIn = "lastCheckIn"
)
